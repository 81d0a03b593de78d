package payments

import "context"

// Authorization is the gateway-side hold placed at booking creation.
// Funds are held, not moved, until Capture.
type Authorization struct {
	TxnID       string
	AmountCents int64
	Currency    string
}

// Refund is the gateway-side refund request. Settlement is
// asynchronous; the webhook or the reconciler confirms it later.
type Refund struct {
	RefundID    string
	TxnID       string
	AmountCents int64
}

// Gateway abstracts the payment provider. Implementations must be safe
// for concurrent use. All amounts are integer minor units.
type Gateway interface {
	// Authorize places a hold for the full amount and returns the
	// provider transaction id.
	Authorize(ctx context.Context, amountCents int64, currency, bookingID, customerID string) (Authorization, error)

	// Capture settles a previously authorized hold.
	Capture(ctx context.Context, txnID string) error

	// CancelAuthorization releases a hold without moving funds.
	CancelAuthorization(ctx context.Context, txnID string) error

	// Refund starts a refund of amountCents against a captured
	// transaction. The returned refund is pending until the provider
	// confirms settlement.
	Refund(ctx context.Context, txnID string, amountCents int64, reason string) (Refund, error)
}

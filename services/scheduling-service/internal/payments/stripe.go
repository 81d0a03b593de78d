package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

// StripeGateway drives escrow-style holds through manual-capture
// PaymentIntents: Authorize creates the intent with capture_method
// manual, Capture settles it, CancelAuthorization voids it.
type StripeGateway struct {
	logger *slog.Logger
}

func NewStripeGateway(secretKey string, logger *slog.Logger) (*StripeGateway, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}
	stripe.Key = key
	return &StripeGateway{logger: logger}, nil
}

func (g *StripeGateway) Authorize(ctx context.Context, amountCents int64, currency, bookingID, customerID string) (Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID)
	params.AddMetadata("customer_id", customerID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return Authorization{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger.Info("payment authorized",
		"provider", "stripe",
		"txn_id", pi.ID,
		"booking_id", bookingID,
		"amount_cents", amountCents,
		"currency", currency,
	)
	return Authorization{TxnID: pi.ID, AmountCents: amountCents, Currency: currency}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, txnID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := paymentintent.Capture(txnID, params)
	if err != nil {
		// Capturing an already-captured intent is treated as success so
		// accept retries stay idempotent at the gateway edge.
		if stripeErrCode(err) == stripe.ErrorCodePaymentIntentUnexpectedState {
			current, getErr := paymentintent.Get(txnID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
			if getErr == nil && current.Status == stripe.PaymentIntentStatusSucceeded {
				return nil
			}
		}
		return fmt.Errorf("stripe: capture %s: %w", txnID, err)
	}
	g.logger.Info("payment captured", "provider", "stripe", "txn_id", pi.ID, "amount_cents", pi.AmountReceived)
	return nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, txnID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(txnID, params); err != nil {
		if stripeErrCode(err) == stripe.ErrorCodePaymentIntentUnexpectedState {
			current, getErr := paymentintent.Get(txnID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
			if getErr == nil && current.Status == stripe.PaymentIntentStatusCanceled {
				return nil
			}
		}
		return fmt.Errorf("stripe: cancel %s: %w", txnID, err)
	}
	g.logger.Info("authorization released", "provider", "stripe", "txn_id", txnID)
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, txnID string, amountCents int64, reason string) (Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(txnID),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	if strings.TrimSpace(reason) != "" {
		params.AddMetadata("reason", reason)
	}

	rf, err := refund.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe: refund %s: %w", txnID, err)
	}
	g.logger.Info("refund requested", "provider", "stripe", "txn_id", txnID, "refund_id", rf.ID, "amount_cents", amountCents)
	return Refund{RefundID: rf.ID, TxnID: txnID, AmountCents: amountCents}, nil
}

func stripeErrCode(err error) stripe.ErrorCode {
	if se, ok := err.(*stripe.Error); ok {
		return se.Code
	}
	return ""
}

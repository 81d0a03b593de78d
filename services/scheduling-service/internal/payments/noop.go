package payments

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopGateway fakes the provider for local development without Stripe
// keys. Every operation succeeds and is logged.
type NoopGateway struct {
	logger *slog.Logger
}

func NewNoopGateway(logger *slog.Logger) *NoopGateway {
	return &NoopGateway{logger: logger}
}

func (g *NoopGateway) Authorize(_ context.Context, amountCents int64, currency, bookingID, _ string) (Authorization, error) {
	txnID := "noop_" + uuid.New().String()
	g.logger.Info("noop payment authorized", "txn_id", txnID, "booking_id", bookingID, "amount_cents", amountCents)
	return Authorization{TxnID: txnID, AmountCents: amountCents, Currency: currency}, nil
}

func (g *NoopGateway) Capture(_ context.Context, txnID string) error {
	g.logger.Info("noop payment captured", "txn_id", txnID)
	return nil
}

func (g *NoopGateway) CancelAuthorization(_ context.Context, txnID string) error {
	g.logger.Info("noop authorization released", "txn_id", txnID)
	return nil
}

func (g *NoopGateway) Refund(_ context.Context, txnID string, amountCents int64, _ string) (Refund, error) {
	refundID := "noop_re_" + uuid.New().String()
	g.logger.Info("noop refund requested", "txn_id", txnID, "refund_id", refundID, "amount_cents", amountCents)
	return Refund{RefundID: refundID, TxnID: txnID, AmountCents: amountCents}, nil
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
)

// StripeWebhook receives refund settlement events. No actor headers;
// the signature is the auth. SettleRefund is idempotent, so replayed
// events and reconciler races are harmless.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	switch evtType {
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			h.logger.Error("stripe: invalid charge payload", "err", err)
			break
		}
		if charge.PaymentIntent == nil || charge.AmountRefunded <= 0 {
			break
		}
		h.settleRefund(w, r, charge.PaymentIntent.ID, charge.AmountRefunded)
		return

	case "refund.updated", "refund.created":
		var rf stripe.Refund
		if err := json.Unmarshal(evt.Data.Raw, &rf); err != nil {
			h.logger.Error("stripe: invalid refund payload", "err", err)
			break
		}
		if rf.Status != stripe.RefundStatusSucceeded || rf.PaymentIntent == nil {
			break
		}
		h.settleRefund(w, r, rf.PaymentIntent.ID, rf.Amount)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
}

func (h *Handler) settleRefund(w http.ResponseWriter, r *http.Request, txnID string, amountCents int64) {
	b, err := h.bookings.SettleRefund(r.Context(), txnID, amountCents)
	if err != nil {
		var nErr *booking.NotFoundError
		if errors.As(err, &nErr) {
			// A refund for a transaction this service never issued;
			// acknowledge so Stripe stops retrying.
			h.logger.Warn("refund for unknown transaction", "txn_id", txnID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "unknown_txn"})
			return
		}
		h.logger.Error("refund settlement failed", "txn_id", txnID, "err", err)
		http.Error(w, "failed to settle refund", http.StatusInternalServerError)
		return
	}
	h.logger.Info("refund settled",
		"txn_id", txnID,
		"booking_id", b.ID,
		"amount_cents", amountCents,
	)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

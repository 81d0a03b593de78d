package templates

import (
	"strings"
	"testing"
)

func TestRenderKnownTemplates(t *testing.T) {
	data := map[string]any{"code": "BK-AB12CD34", "start_at": "2026-01-05T09:00:00Z"}
	for _, name := range []string{
		"booking_requested",
		"booking_confirmed",
		"booking_declined",
		"booking_withdrawn",
		"booking_rescheduled",
		"booking_completed",
		"booking_canceled",
		"refund_settled",
	} {
		msg, err := Render(name, "bk-1", data)
		if err != nil {
			t.Fatalf("Render(%s): %v", name, err)
		}
		if msg.Subject == "" || msg.Body == "" {
			t.Fatalf("Render(%s): empty subject or body", name)
		}
		if !strings.Contains(msg.Subject, "BK-AB12CD34") {
			t.Fatalf("Render(%s): subject missing code: %q", name, msg.Subject)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := Render("nonsense", "bk-1", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRenderFallsBackToBookingID(t *testing.T) {
	msg, err := Render("booking_canceled", "bk-42", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "bk-42") {
		t.Fatalf("body missing booking id fallback: %q", msg.Body)
	}
}

func TestRenderRefundAmount(t *testing.T) {
	msg, err := Render("refund_settled", "bk-1", map[string]any{
		"code":         "BK-XYZ",
		"amount_cents": float64(2550),
		"currency":     "usd",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "25.50 USD") {
		t.Fatalf("body missing formatted amount: %q", msg.Body)
	}
}

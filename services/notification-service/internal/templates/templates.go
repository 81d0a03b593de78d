package templates

import (
	"fmt"
	"strings"
	"time"
)

// Message is a rendered notification. Subject is used by email; push
// senders use it as the title.
type Message struct {
	Subject string
	Body    string
}

// Render maps a template name plus event data to user-facing text.
// Unknown templates are an error so a schema drift between services
// shows up as a failed delivery instead of a blank message.
func Render(template string, bookingID string, data map[string]any) (Message, error) {
	code := str(data, "code")
	if code == "" {
		code = bookingID
	}

	switch template {
	case "booking_requested":
		return Message{
			Subject: "New session request " + code,
			Body:    fmt.Sprintf("You have a new session request %s%s. Accept or decline it from your dashboard.", code, atClause(data, "start_at")),
		}, nil
	case "booking_confirmed":
		return Message{
			Subject: "Session " + code + " confirmed",
			Body:    fmt.Sprintf("Your session %s is confirmed%s. The join link is available on the booking page.", code, atClause(data, "start_at")),
		}, nil
	case "booking_declined":
		return Message{
			Subject: "Session " + code + " declined",
			Body:    fmt.Sprintf("The expert declined your session request %s. Your payment hold has been released.", code),
		}, nil
	case "booking_withdrawn":
		return Message{
			Subject: "Session request " + code + " withdrawn",
			Body:    fmt.Sprintf("The customer withdrew session request %s.", code),
		}, nil
	case "booking_rescheduled":
		return Message{
			Subject: "Session " + code + " rescheduled",
			Body:    fmt.Sprintf("Session %s was moved%s.", code, atClause(data, "to")),
		}, nil
	case "booking_completed":
		return Message{
			Subject: "Session " + code + " completed",
			Body:    fmt.Sprintf("Session %s is complete. You can leave a review on the booking page.", code),
		}, nil
	case "booking_canceled":
		return Message{
			Subject: "Session " + code + " canceled",
			Body:    fmt.Sprintf("Session %s was canceled.", code),
		}, nil
	case "refund_settled":
		body := fmt.Sprintf("Your refund for session %s has been processed.", code)
		if cents, ok := num(data, "amount_cents"); ok && cents > 0 {
			body = fmt.Sprintf("Your refund of %s for session %s has been processed.", formatCents(cents, str(data, "currency")), code)
		}
		return Message{
			Subject: "Refund processed for session " + code,
			Body:    body,
		}, nil
	}
	return Message{}, fmt.Errorf("unknown template %q", template)
}

func atClause(data map[string]any, key string) string {
	raw := str(data, key)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return " at " + t.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
	}
	return " at " + raw
}

func str(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func num(data map[string]any, key string) (int64, bool) {
	if data == nil {
		return 0, false
	}
	// JSON numbers decode as float64.
	if f, ok := data[key].(float64); ok {
		return int64(f), true
	}
	return 0, false
}

func formatCents(cents int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}

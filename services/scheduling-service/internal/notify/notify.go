package notify

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/outbox"
)

const EventNotificationRequested = "booking.notification.requested.v1"

// Notification is a request to reach a user about a booking change.
// Delivery happens in the notification service; this side only records
// intent.
type Notification struct {
	RecipientID string
	Channel     string // "email" or "push"
	Template    string // e.g. "booking_confirmed"
	BookingID   string
	Data        map[string]any
}

// Sender records a notification request inside the caller's
// transaction so the request commits or rolls back with the booking
// change that caused it.
type Sender interface {
	Send(ctx context.Context, tx pgx.Tx, n Notification) error
}

// OutboxSender writes notification requests to the outbox; the
// publisher relays them to Kafka for the notification service.
type OutboxSender struct {
	repo *outbox.Repository
}

func NewOutboxSender(repo *outbox.Repository) *OutboxSender {
	return &OutboxSender{repo: repo}
}

func (s *OutboxSender) Send(ctx context.Context, tx pgx.Tx, n Notification) error {
	evt, err := outbox.NewEvent("booking", n.BookingID, EventNotificationRequested, map[string]any{
		"recipient_id": n.RecipientID,
		"channel":      n.Channel,
		"template":     n.Template,
		"booking_id":   n.BookingID,
		"data":         n.Data,
	})
	if err != nil {
		return err
	}
	return s.repo.Insert(ctx, tx, evt)
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, _ pgx.Tx, _ Notification) error {
	return nil
}

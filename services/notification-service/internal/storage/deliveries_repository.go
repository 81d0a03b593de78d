package storage

import (
	"context"
	"encoding/json"

	"github.com/expertmeet/expertmeet/libs/db"
)

// Delivery is one attempt at reaching a user, recorded whether it
// succeeded or not. The log doubles as an audit trail for support.
type Delivery struct {
	BookingID   string
	RecipientID string
	Channel     string
	Template    string
	Payload     map[string]any
	Status      string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (booking_id, recipient_id, channel, template, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.BookingID, d.RecipientID, d.Channel, d.Template, payload, d.Status)
	return err
}

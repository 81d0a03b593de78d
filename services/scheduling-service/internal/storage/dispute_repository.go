package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/expertmeet/expertmeet/libs/db"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

type DisputeRepository struct {
	pool *db.Pool
}

func NewDisputeRepository(pool *db.Pool) *DisputeRepository {
	return &DisputeRepository{pool: pool}
}

const disputeColumns = `
	id, booking_id, txn_id, customer_id, identity_id, type,
	customer_message, status, resolution, refund_cents,
	COALESCE(admin_notes, ''), COALESCE(decided_by, ''), decided_at, created_at
`

func (r *DisputeRepository) Create(ctx context.Context, d *model.Dispute) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO disputes
			(id, booking_id, txn_id, customer_id, identity_id, type,
			 customer_message, status, resolution, refund_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, d.ID, d.BookingID, d.TxnID, d.CustomerID, d.IdentityID, d.Type,
		d.CustomerMessage, d.Status, d.Resolution, d.RefundCents, d.CreatedAt)
	if isUniqueViolation(err) {
		return booking.Conflictf("booking %s already has an open dispute", d.BookingID)
	}
	return err
}

func (r *DisputeRepository) Get(ctx context.Context, id string) (*model.Dispute, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "dispute", ID: id}
	}
	return d, err
}

// HasOpen reports whether the booking already has an undecided
// dispute.
func (r *DisputeRepository) HasOpen(ctx context.Context, bookingID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM disputes
			WHERE booking_id = $1 AND status IN ('OPEN', 'UNDER_REVIEW')
		)
	`, bookingID).Scan(&exists)
	return exists, err
}

func (r *DisputeRepository) List(ctx context.Context, status model.DisputeStatus, limit int) ([]*model.Dispute, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Decide records the admin decision. Only undecided disputes can be
// decided; a raced second decision comes back NotFound here.
func (r *DisputeRepository) Decide(ctx context.Context, id string, status model.DisputeStatus, resolution model.DisputeResolution, refundCents int64, notes, decidedBy string, decidedAt time.Time) (*model.Dispute, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE disputes
		SET status = $2,
			resolution = $3,
			refund_cents = $4,
			admin_notes = $5,
			decided_by = $6,
			decided_at = $7
		WHERE id = $1 AND status IN ('OPEN', 'UNDER_REVIEW')
		RETURNING `+disputeColumns+`
	`, id, status, resolution, refundCents, notes, decidedBy, decidedAt)
	d, err := scanDispute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.Conflictf("dispute %s is already decided or does not exist", id)
	}
	return d, err
}

func scanDispute(row rowScanner) (*model.Dispute, error) {
	var d model.Dispute
	if err := row.Scan(
		&d.ID, &d.BookingID, &d.TxnID, &d.CustomerID, &d.IdentityID, &d.Type,
		&d.CustomerMessage, &d.Status, &d.Resolution, &d.RefundCents,
		&d.AdminNotes, &d.DecidedBy, &d.DecidedAt, &d.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

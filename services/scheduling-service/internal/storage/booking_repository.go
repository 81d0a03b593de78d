package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/expertmeet/expertmeet/libs/db"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/availability"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// BookingRepository persists bookings with the embedded documents
// (snapshot, payment, policy, meeting, review, timeline) as jsonb.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `
	id, code, identity_id, profile_id, customer_id, service_id,
	snapshot, start_time, end_time, timezone, status,
	payment, policy, meeting, review, COALESCE(customer_note, ''), timeline,
	created_at, updated_at
`

// Create inserts the booking and runs post inside the same
// transaction (outbox events, notification requests). A duplicate hit
// on the unique partial index over (identity_id, start_time), which
// covers only non-terminal rows, maps to ConflictError.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking, post func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snapshot, payment, policy, meeting, review, timeline, err := marshalBookingDocs(b)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings
			(id, code, identity_id, profile_id, customer_id, service_id,
			 snapshot, start_time, end_time, timezone, status,
			 payment, policy, meeting, review, customer_note, timeline,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, b.ID, b.Code, b.IdentityID, b.ProfileID, b.CustomerID, b.ServiceID,
		snapshot, b.StartAt, b.EndAt, b.Timezone, b.Status,
		payment, policy, meeting, review, b.CustomerNote, timeline,
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return booking.Conflictf("an active booking for this service at this time already exists")
		}
		return err
	}

	if post != nil {
		if err := post(ctx, tx); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *BookingRepository) Get(ctx context.Context, id string) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "booking", ID: id}
	}
	return b, err
}

func (r *BookingRepository) GetByTxnID(ctx context.Context, txnID string) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment->>'txnId' = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, txnID)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "booking for txn", ID: txnID}
	}
	return b, err
}

// Transition serializes state changes per booking: the row is locked
// FOR UPDATE for the duration of fn, so concurrent transitions on one
// booking queue up instead of interleaving.
func (r *BookingRepository) Transition(ctx context.Context, id string, fn func(ctx context.Context, tx pgx.Tx, b *model.Booking) error) (*model.Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "booking", ID: id}
	}
	if err != nil {
		return nil, err
	}

	if err := fn(ctx, tx, b); err != nil {
		return nil, err
	}

	_, payment, policy, meeting, review, timeline, err := marshalBookingDocs(b)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE bookings
		SET start_time = $2,
			end_time = $3,
			status = $4,
			payment = $5,
			policy = $6,
			meeting = $7,
			review = $8,
			timeline = $9,
			updated_at = $10
		WHERE id = $1
	`, b.ID, b.StartAt, b.EndAt, b.Status, payment, policy, meeting, review, timeline, b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// AnyBlockingOverlap implements the non-overlap invariant's query:
// blocking bookings linked to the identity directly or through any of
// its profiles, intersecting [start, end) half-open.
func (r *BookingRepository) AnyBlockingOverlap(ctx context.Context, identityID string, profileIDs []string, start, end time.Time, excludeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE (identity_id = $1 OR profile_id = ANY($2))
				AND status = ANY($3)
				AND start_time < $5
				AND end_time > $4
				AND ($6 = '' OR id <> $6)
		)
	`, identityID, profileIDs, blockingStatusStrings(), start, end, excludeID).Scan(&exists)
	return exists, err
}

func (r *BookingRepository) BlockingIntervals(ctx context.Context, identityID string, profileIDs []string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM bookings
		WHERE (identity_id = $1 OR profile_id = ANY($2))
			AND status = ANY($3)
			AND start_time < $5
			AND end_time > $4
		ORDER BY start_time
	`, identityID, profileIDs, blockingStatusStrings(), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (r *BookingRepository) HasActiveDuplicate(ctx context.Context, customerID, serviceID string, start time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE customer_id = $1
				AND service_id = $2
				AND start_time = $3
				AND status NOT IN ('COMPLETED', 'CANCELED', 'NO_SHOW', 'REFUNDED')
		)
	`, customerID, serviceID, start).Scan(&exists)
	return exists, err
}

func (r *BookingRepository) List(ctx context.Context, f booking.ListFilter) ([]*model.Booking, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, val any) {
		n++
		args = append(args, val)
		query += fmt.Sprintf(clause, n)
	}
	if f.CustomerID != "" {
		add(" AND customer_id = $%d", f.CustomerID)
	}
	if f.IdentityID != "" {
		add(" AND identity_id = $%d", f.IdentityID)
	}
	if f.Status != "" {
		add(" AND status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add(" AND start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add(" AND start_time < $%d", f.To)
	}
	add(" ORDER BY start_time DESC LIMIT $%d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *BookingRepository) StatsByStatus(ctx context.Context, identityID string, from, to time.Time) (map[model.BookingStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM bookings
		WHERE identity_id = $1
			AND ($2::timestamptz IS NULL OR start_time >= $2)
			AND ($3::timestamptz IS NULL OR start_time < $3)
		GROUP BY status
	`, identityID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[model.BookingStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[model.BookingStatus(status)] = count
	}
	return stats, rows.Err()
}

// ListRefundPending returns bookings whose refunds have not been
// confirmed yet. The reconciler polls this.
func (r *BookingRepository) ListRefundPending(ctx context.Context, limit int) ([]*model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment->>'status' = 'REFUND_PENDING'
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var snapshot, payment, policy, timeline []byte
	var meeting, review []byte
	if err := row.Scan(
		&b.ID, &b.Code, &b.IdentityID, &b.ProfileID, &b.CustomerID, &b.ServiceID,
		&snapshot, &b.StartAt, &b.EndAt, &b.Timezone, &b.Status,
		&payment, &policy, &meeting, &review, &b.CustomerNote, &timeline,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(snapshot, &b.Snapshot); err != nil {
		return nil, fmt.Errorf("booking %s: bad snapshot: %w", b.ID, err)
	}
	if err := json.Unmarshal(payment, &b.Payment); err != nil {
		return nil, fmt.Errorf("booking %s: bad payment: %w", b.ID, err)
	}
	if err := json.Unmarshal(policy, &b.Policy); err != nil {
		return nil, fmt.Errorf("booking %s: bad policy: %w", b.ID, err)
	}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &b.Timeline); err != nil {
			return nil, fmt.Errorf("booking %s: bad timeline: %w", b.ID, err)
		}
	}
	if len(meeting) > 0 {
		b.Meeting = &model.Meeting{}
		if err := json.Unmarshal(meeting, b.Meeting); err != nil {
			return nil, fmt.Errorf("booking %s: bad meeting: %w", b.ID, err)
		}
	}
	if len(review) > 0 {
		b.Review = &model.Review{}
		if err := json.Unmarshal(review, b.Review); err != nil {
			return nil, fmt.Errorf("booking %s: bad review: %w", b.ID, err)
		}
	}
	b.StartAt = b.StartAt.UTC()
	b.EndAt = b.EndAt.UTC()
	return &b, nil
}

func marshalBookingDocs(b *model.Booking) (snapshot, payment, policy, meeting, review, timeline []byte, err error) {
	if snapshot, err = json.Marshal(b.Snapshot); err != nil {
		return
	}
	if payment, err = json.Marshal(b.Payment); err != nil {
		return
	}
	if policy, err = json.Marshal(b.Policy); err != nil {
		return
	}
	if b.Meeting != nil {
		if meeting, err = json.Marshal(b.Meeting); err != nil {
			return
		}
	}
	if b.Review != nil {
		if review, err = json.Marshal(b.Review); err != nil {
			return
		}
	}
	if b.Timeline == nil {
		timeline = []byte("[]")
	} else if timeline, err = json.Marshal(b.Timeline); err != nil {
		return
	}
	return
}

func blockingStatusStrings() []string {
	out := make([]string, 0, len(model.BlockingStatuses))
	for _, s := range model.BlockingStatuses {
		out = append(out, string(s))
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/expertmeet/expertmeet/libs/db"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// AvailabilityRepository persists versioned schedules. Rules and
// exceptions are jsonb documents on the record; they are always read
// and replaced as a unit.
type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

const availabilityColumns = `
	id, identity_id, status, COALESCE(version_of, ''), timezone,
	buffer_minutes, rules, exceptions, created_at, updated_at
`

// GetActive returns the identity's ACTIVE schedule, or nil when none
// has been published. Absence is a normal state, not an error.
func (r *AvailabilityRepository) GetActive(ctx context.Context, identityID string) (*model.Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availability
		WHERE identity_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at DESC
		LIMIT 1
	`, identityID)
	av, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return av, err
}

// Upsert publishes a new ACTIVE schedule, archiving the previous one
// in the same transaction. The returned warning names future blocking
// bookings stranded on weekdays the new rule set no longer covers;
// publication proceeds regardless (last-write-wins).
func (r *AvailabilityRepository) Upsert(ctx context.Context, identityID string, av model.Availability) (*model.Availability, string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prevRow := tx.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availability
		WHERE identity_id = $1 AND status = 'ACTIVE'
		FOR UPDATE
	`, identityID)
	prev, err := scanAvailability(prevRow)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", err
	}

	versionOf := ""
	if prev != nil {
		versionOf = prev.ID
		if _, err := tx.Exec(ctx, `
			UPDATE availability
			SET status = 'ARCHIVED', updated_at = now()
			WHERE id = $1
		`, prev.ID); err != nil {
			return nil, "", err
		}
	}

	now := time.Now().UTC()
	next := &model.Availability{
		ID:            uuid.New().String(),
		IdentityID:    identityID,
		Status:        model.AvailabilityActive,
		VersionOf:     versionOf,
		Timezone:      av.Timezone,
		BufferMinutes: av.BufferMinutes,
		Rules:         av.Rules,
		Exceptions:    av.Exceptions,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	rules, err := json.Marshal(next.Rules)
	if err != nil {
		return nil, "", err
	}
	exceptions, err := json.Marshal(next.Exceptions)
	if err != nil {
		return nil, "", err
	}
	if next.Exceptions == nil {
		exceptions = []byte("[]")
	}
	if next.Rules == nil {
		rules = []byte("[]")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO availability
			(id, identity_id, status, version_of, timezone, buffer_minutes, rules, exceptions, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
	`, next.ID, next.IdentityID, next.Status, next.VersionOf, next.Timezone,
		next.BufferMinutes, rules, exceptions, next.CreatedAt, next.UpdatedAt); err != nil {
		return nil, "", err
	}

	warning, err := r.strandedBookingWarning(ctx, tx, identityID, next)
	if err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	return next, warning, nil
}

// strandedBookingWarning counts future blocking bookings whose local
// weekday has no rule in the new schedule. Advisory only.
func (r *AvailabilityRepository) strandedBookingWarning(ctx context.Context, tx pgx.Tx, identityID string, next *model.Availability) (string, error) {
	days := next.RuleDays()
	var covered []int
	for d := range days {
		covered = append(covered, d)
	}
	if covered == nil {
		covered = []int{}
	}

	var count int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE identity_id = $1
			AND status = ANY($2)
			AND start_time > now()
			AND EXTRACT(DOW FROM start_time AT TIME ZONE $3)::int <> ALL($4)
	`, identityID, blockingStatusStrings(), next.Timezone, covered).Scan(&count)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", nil
	}
	return fmt.Sprintf("%d future confirmed booking(s) fall outside the new weekly rules", count), nil
}

func scanAvailability(row rowScanner) (*model.Availability, error) {
	var av model.Availability
	var rules, exceptions []byte
	if err := row.Scan(
		&av.ID, &av.IdentityID, &av.Status, &av.VersionOf, &av.Timezone,
		&av.BufferMinutes, &rules, &exceptions, &av.CreatedAt, &av.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &av.Rules); err != nil {
			return nil, fmt.Errorf("availability %s: bad rules: %w", av.ID, err)
		}
	}
	if len(exceptions) > 0 {
		if err := json.Unmarshal(exceptions, &av.Exceptions); err != nil {
			return nil, fmt.Errorf("availability %s: bad exceptions: %w", av.ID, err)
		}
	}
	return &av, nil
}

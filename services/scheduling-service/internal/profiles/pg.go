package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/expertmeet/expertmeet/libs/db"
)

// ErrNotFound is returned when a profile or service id does not
// resolve. Callers map it to their own error taxonomy.
var ErrNotFound = errors.New("profiles: not found")

// PGDirectory is the default Directory/Catalog implementation backed
// by the service's own database. A gRPC-backed directory exists behind
// the protogen build tag for when profiles move to their own service.
type PGDirectory struct {
	pool *db.Pool
}

func NewPGDirectory(pool *db.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) ResolveIdentity(ctx context.Context, profileID string) (string, error) {
	var identityID string
	err := d.pool.QueryRow(ctx, `
		SELECT identity_id FROM expert_profiles WHERE id = $1
	`, profileID).Scan(&identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}
	if err != nil {
		return "", err
	}
	return identityID, nil
}

func (d *PGDirectory) ListProfileIDs(ctx context.Context, identityID string) ([]string, error) {
	// Archived profiles stay in the result on purpose: bookings made
	// through a since-archived profile still occupy the identity's time.
	rows, err := d.pool.Query(ctx, `
		SELECT id FROM expert_profiles WHERE identity_id = $1
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *PGDirectory) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var p Profile
	err := d.pool.QueryRow(ctx, `
		SELECT id, identity_id, display_name, status, created_at, updated_at
		FROM expert_profiles
		WHERE id = $1
	`, profileID).Scan(&p.ID, &p.IdentityID, &p.DisplayName, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (d *PGDirectory) GetService(ctx context.Context, serviceID string) (Service, error) {
	var s Service
	err := d.pool.QueryRow(ctx, `
		SELECT id, identity_id, title, duration_minutes, price_cents, currency, active
		FROM expert_services
		WHERE id = $1
	`, serviceID).Scan(&s.ID, &s.IdentityID, &s.Title, &s.DurationMinutes, &s.PriceCents, &s.Currency, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Service{}, fmt.Errorf("%w: service %s", ErrNotFound, serviceID)
	}
	if err != nil {
		return Service{}, err
	}
	return s, nil
}

// Approve marks a profile APPROVED, archives the identity's other
// non-archived profiles, and copies the active availability (if any)
// into a DRAFT version so the new profile starts from the live
// schedule instead of a blank one.
func (d *PGDirectory) Approve(ctx context.Context, profileID string) (Profile, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return Profile{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p Profile
	err = tx.QueryRow(ctx, `
		SELECT id, identity_id, display_name, status, created_at, updated_at
		FROM expert_profiles
		WHERE id = $1
		FOR UPDATE
	`, profileID).Scan(&p.ID, &p.IdentityID, &p.DisplayName, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}
	if err != nil {
		return Profile{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE expert_profiles
		SET status = 'ARCHIVED', updated_at = now()
		WHERE identity_id = $1 AND id <> $2 AND status <> 'ARCHIVED'
	`, p.IdentityID, p.ID); err != nil {
		return Profile{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE expert_profiles
		SET status = 'APPROVED', updated_at = now()
		WHERE id = $1
	`, p.ID); err != nil {
		return Profile{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO availability (id, identity_id, status, version_of, timezone, buffer_minutes, rules, exceptions)
		SELECT gen_random_uuid(), identity_id, 'DRAFT', id, timezone, buffer_minutes, rules, exceptions
		FROM availability
		WHERE identity_id = $1 AND status = 'ACTIVE'
	`, p.IdentityID); err != nil {
		return Profile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Profile{}, err
	}
	p.Status = ProfileApproved
	return p, nil
}

package profiles

import (
	"context"
	"time"
)

type ProfileStatus string

const (
	ProfilePending  ProfileStatus = "PENDING"
	ProfileApproved ProfileStatus = "APPROVED"
	ProfileArchived ProfileStatus = "ARCHIVED"
)

// Profile is one public expert profile. An identity may accumulate
// several profiles over time (re-submissions, rebrands); bookings link
// to the profile they were made through, while scheduling constraints
// attach to the identity.
type Profile struct {
	ID          string
	IdentityID  string
	DisplayName string
	Status      ProfileStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Service is a bookable offering of an identity. Price is in integer
// minor units.
type Service struct {
	ID              string
	IdentityID      string
	Title           string
	DurationMinutes int
	PriceCents      int64
	Currency        string
	Active          bool
}

// Directory resolves profile/identity links. The overlap guard depends
// on ListProfileIDs returning every profile id the identity has ever
// owned, archived ones included.
type Directory interface {
	ResolveIdentity(ctx context.Context, profileID string) (string, error)
	ListProfileIDs(ctx context.Context, identityID string) ([]string, error)
}

// Catalog looks up bookable services for snapshotting at booking
// creation.
type Catalog interface {
	GetService(ctx context.Context, serviceID string) (Service, error)
}

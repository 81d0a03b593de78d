package meetings

import (
	"context"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// Provisioner creates a video meeting for an accepted booking.
// Provisioning failures are soft: the caller confirms the booking
// anyway and records the failure on the timeline.
type Provisioner interface {
	Provision(ctx context.Context, bookingID, topic string, startAt time.Time, duration time.Duration) (model.Meeting, error)
	ProviderID() string
}

type NoopProvisioner struct{}

func NewNoopProvisioner() *NoopProvisioner {
	return &NoopProvisioner{}
}

func (p *NoopProvisioner) ProviderID() string {
	return "meeting-noop"
}

func (p *NoopProvisioner) Provision(_ context.Context, _ string, _ string, _ time.Time, _ time.Duration) (model.Meeting, error) {
	return model.Meeting{Provider: p.ProviderID()}, nil
}

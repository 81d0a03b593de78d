package booking

import (
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// Actor is the authenticated principal performing an operation. Role
// and id arrive from the identity layer in front of this service.
type Actor struct {
	Role model.ActorRole
	ID   string
}

// Capability is an explicit grant checked before any transition runs.
// Capabilities are coarse on purpose; ownership (this customer, this
// expert) is checked separately against the booking row.
type Capability int

const (
	CapCreate Capability = iota
	CapAccept
	CapDecline
	CapCancelOwn
	CapCancel
	CapBypassCancelWindow
	CapReschedule
	CapStart
	CapComplete
	CapNoShow
	CapReview
	CapOpenDispute
	CapDecideDispute
	CapSettlePayments
)

var roleCapabilities = map[model.ActorRole][]Capability{
	model.ActorCustomer: {CapCreate, CapCancelOwn, CapReschedule, CapReview, CapOpenDispute},
	model.ActorExpert:   {CapAccept, CapDecline, CapCancel, CapReschedule, CapStart, CapComplete, CapNoShow},
	model.ActorAdmin: {
		CapAccept, CapDecline, CapCancel, CapBypassCancelWindow, CapReschedule,
		CapStart, CapComplete, CapNoShow, CapDecideDispute, CapSettlePayments,
	},
	model.ActorSystem: {CapSettlePayments},
}

// Can reports whether the actor's role grants the capability.
func (a Actor) Can(c Capability) bool {
	for _, granted := range roleCapabilities[a.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

// require returns a typed authorization error unless the capability is
// granted.
func (a Actor) require(c Capability, action string) error {
	if !a.Can(c) {
		return Forbiddenf("role %s may not %s", a.Role, action)
	}
	return nil
}

// ownsAsCustomer checks that a customer actor is the booking's
// customer. Admins pass ownership checks implicitly through their
// broader capability set, so this is only consulted for CUSTOMER.
func (a Actor) ownsAsCustomer(b *model.Booking) bool {
	return a.Role == model.ActorCustomer && a.ID == b.CustomerID
}

// ownsAsExpert checks that an expert actor is the booking's provider
// identity.
func (a Actor) ownsAsExpert(b *model.Booking) bool {
	return a.Role == model.ActorExpert && a.ID == b.IdentityID
}

package model

import "time"

type DisputeStatus string

const (
	DisputeOpen             DisputeStatus = "OPEN"
	DisputeUnderReview      DisputeStatus = "UNDER_REVIEW"
	DisputeResolvedCustomer DisputeStatus = "RESOLVED_CUSTOMER"
	DisputeResolvedExpert   DisputeStatus = "RESOLVED_EXPERT"
)

type DisputeType string

const (
	DisputeQuality DisputeType = "QUALITY"
	DisputeNoShow  DisputeType = "NO_SHOW"
	DisputeLate    DisputeType = "LATE"
	DisputeOther   DisputeType = "OTHER"
)

type DisputeResolution string

const (
	ResolutionNone          DisputeResolution = "NONE"
	ResolutionRefundFull    DisputeResolution = "REFUND_FULL"
	ResolutionRefundPartial DisputeResolution = "REFUND_PARTIAL"
	ResolutionNoRefund      DisputeResolution = "NO_REFUND"
)

// Dispute is opened by the customer against a CAPTURED payment. The
// payment is referenced through the booking and its gateway txn id.
type Dispute struct {
	ID              string
	BookingID       string
	TxnID           string
	CustomerID      string
	IdentityID      string
	Type            DisputeType
	CustomerMessage string
	Status          DisputeStatus
	Resolution      DisputeResolution
	RefundCents     int64
	AdminNotes      string
	DecidedBy       string
	DecidedAt       *time.Time
	CreatedAt       time.Time
}

package model

import "time"

type BookingStatus string

const (
	BookingPending         BookingStatus = "PENDING"
	BookingConfirmed       BookingStatus = "CONFIRMED"
	BookingInProgress      BookingStatus = "IN_PROGRESS"
	BookingCompleted       BookingStatus = "COMPLETED"
	BookingCanceled        BookingStatus = "CANCELED"
	BookingNoShow          BookingStatus = "NO_SHOW"
	BookingRefundRequested BookingStatus = "REFUND_REQUESTED"
	BookingRefunded        BookingStatus = "REFUNDED"
)

// Blocking reports whether a booking in this status occupies the
// expert's time and therefore participates in overlap checks.
func (s BookingStatus) Blocking() bool {
	return s == BookingConfirmed || s == BookingInProgress
}

func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingCanceled, BookingNoShow, BookingRefunded:
		return true
	}
	return false
}

// BlockingStatuses is the canonical list used in storage queries.
var BlockingStatuses = []BookingStatus{BookingConfirmed, BookingInProgress}

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentAuthorized    PaymentStatus = "AUTHORIZED"
	PaymentCaptured      PaymentStatus = "CAPTURED"
	PaymentRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentRefunded      PaymentStatus = "REFUNDED"
	PaymentCanceled      PaymentStatus = "CANCELED"
	PaymentFailed        PaymentStatus = "FAILED"
)

type ActorRole string

const (
	ActorCustomer ActorRole = "CUSTOMER"
	ActorExpert   ActorRole = "EXPERT"
	ActorAdmin    ActorRole = "ADMIN"
	ActorSystem   ActorRole = "SYSTEM"
)

// Payment is the payment summary embedded in a booking. The
// gateway-side ledger record is referenced through TxnID, not owned.
type Payment struct {
	Status           PaymentStatus `json:"status"`
	AmountCents      int64         `json:"amountCents"`
	Currency         string        `json:"currency"`
	PlatformFeeCents int64         `json:"platformFeeCents"`
	NetToExpertCents int64         `json:"netToExpertCents"`
	TxnID            string        `json:"txnId,omitempty"`
	RefundedCents    int64         `json:"refundedCents"`
}

// ServiceSnapshot freezes the service terms at creation time so later
// catalog edits never retroactively change a booking.
type ServiceSnapshot struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"durationMinutes"`
	PriceCents      int64  `json:"priceCents"`
	Currency        string `json:"currency"`
}

type Meeting struct {
	Provider  string `json:"provider,omitempty"`
	MeetingID string `json:"meetingId,omitempty"`
	JoinURL   string `json:"joinUrl,omitempty"`
	HostURL   string `json:"hostUrl,omitempty"`
}

type Review struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TimelineEntry is an immutable audit record. Entries are only ever
// appended; the timeline is never rewritten.
type TimelineEntry struct {
	At     time.Time      `json:"at"`
	By     ActorRole      `json:"by"`
	Action string         `json:"action"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Policy is snapshotted per booking at creation time.
type Policy struct {
	RescheduleBeforeHours int     `json:"rescheduleBeforeHours"`
	CancelBeforeHours     int     `json:"cancelBeforeHours"`
	NoShowPenalty         float64 `json:"noShowPenalty"`
}

func DefaultPolicy() Policy {
	return Policy{RescheduleBeforeHours: 24, CancelBeforeHours: 24, NoShowPenalty: 1.0}
}

type Booking struct {
	ID         string
	Code       string
	IdentityID string
	// ProfileID is the public profile the customer booked through.
	// Older rows may only carry this link; readers resolve the
	// identity through the profile directory.
	ProfileID    string
	CustomerID   string
	ServiceID    string
	Snapshot     ServiceSnapshot
	StartAt      time.Time
	EndAt        time.Time
	Timezone     string
	Status       BookingStatus
	Payment      Payment
	Policy       Policy
	Meeting      *Meeting
	Review       *Review
	CustomerNote string
	Timeline     []TimelineEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Append records a timeline entry. Meta may be nil.
func (b *Booking) Append(by ActorRole, action string, meta map[string]any) {
	b.Timeline = append(b.Timeline, TimelineEntry{
		At:     time.Now().UTC(),
		By:     by,
		Action: action,
		Meta:   meta,
	})
}

package disputes

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// Repo persists disputes. The pg implementation lives in storage.
type Repo interface {
	Create(ctx context.Context, d *model.Dispute) error
	Get(ctx context.Context, id string) (*model.Dispute, error)
	HasOpen(ctx context.Context, bookingID string) (bool, error)
	List(ctx context.Context, status model.DisputeStatus, limit int) ([]*model.Dispute, error)
	Decide(ctx context.Context, id string, status model.DisputeStatus, resolution model.DisputeResolution, refundCents int64, notes, decidedBy string, decidedAt time.Time) (*model.Dispute, error)
}

// BookingOps is the slice of the booking service disputes need.
type BookingOps interface {
	Get(ctx context.Context, id string) (*model.Booking, error)
	RequestRefund(ctx context.Context, actor booking.Actor, id string, amountCents int64, reason string) (*model.Booking, error)
}

type Service struct {
	repo     Repo
	bookings BookingOps
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewService(repo Repo, bookings BookingOps, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		bookings: bookings,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Tests only.
func (s *Service) SetNow(fn func() time.Time) { s.nowFn = fn }

// Open files a dispute against a captured payment. One undecided
// dispute per booking.
func (s *Service) Open(ctx context.Context, actor booking.Actor, bookingID string, dtype model.DisputeType, message string) (*model.Dispute, error) {
	if !actor.Can(booking.CapOpenDispute) {
		return nil, booking.Forbiddenf("role %s may not open disputes", actor.Role)
	}
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != actor.ID {
		return nil, booking.Forbiddenf("booking belongs to another customer")
	}
	if b.Payment.Status != model.PaymentCaptured {
		return nil, booking.Conflictf("payment is %s, disputes require a CAPTURED payment", b.Payment.Status)
	}
	switch dtype {
	case model.DisputeQuality, model.DisputeNoShow, model.DisputeLate, model.DisputeOther:
	default:
		return nil, booking.Validationf("unknown dispute type %q", dtype)
	}

	open, err := s.repo.HasOpen(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, booking.Conflictf("booking %s already has an open dispute", bookingID)
	}

	d := &model.Dispute{
		ID:              uuid.New().String(),
		BookingID:       b.ID,
		TxnID:           b.Payment.TxnID,
		CustomerID:      b.CustomerID,
		IdentityID:      b.IdentityID,
		Type:            dtype,
		CustomerMessage: strings.TrimSpace(message),
		Status:          model.DisputeOpen,
		Resolution:      model.ResolutionNone,
		CreatedAt:       s.nowFn(),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("dispute opened", "dispute_id", d.ID, "booking_id", b.ID, "type", string(dtype))
	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Dispute, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, actor booking.Actor, status model.DisputeStatus, limit int) ([]*model.Dispute, error) {
	if !actor.Can(booking.CapDecideDispute) {
		return nil, booking.Forbiddenf("role %s may not list disputes", actor.Role)
	}
	return s.repo.List(ctx, status, limit)
}

type Decision struct {
	Resolution  model.DisputeResolution
	RefundCents int64 // required for REFUND_PARTIAL, ignored otherwise
	Notes       string
}

// Decide records the admin ruling and, for refund resolutions, starts
// the gateway refund. The refund runs first so a gateway failure
// leaves the dispute open for a retry.
func (s *Service) Decide(ctx context.Context, actor booking.Actor, disputeID string, dec Decision) (*model.Dispute, error) {
	if !actor.Can(booking.CapDecideDispute) {
		return nil, booking.Forbiddenf("role %s may not decide disputes", actor.Role)
	}

	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DisputeOpen && d.Status != model.DisputeUnderReview {
		return nil, booking.Conflictf("dispute %s is already decided", disputeID)
	}

	var status model.DisputeStatus
	refundCents := int64(0)
	switch dec.Resolution {
	case model.ResolutionRefundFull:
		status = model.DisputeResolvedCustomer
		refundCents = 0 // full remaining, resolved by the booking service
	case model.ResolutionRefundPartial:
		if dec.RefundCents <= 0 {
			return nil, booking.Validationf("partial refund requires a positive amount")
		}
		status = model.DisputeResolvedCustomer
		refundCents = dec.RefundCents
	case model.ResolutionNoRefund:
		status = model.DisputeResolvedExpert
	default:
		return nil, booking.Validationf("unknown resolution %q", dec.Resolution)
	}

	if status == model.DisputeResolvedCustomer {
		reason := "dispute " + d.ID
		b, err := s.bookings.RequestRefund(ctx, actor, d.BookingID, refundCents, reason)
		if err != nil {
			return nil, err
		}
		// Record the actual amount the booking service settled on (full
		// refunds pass 0 and resolve to the remaining balance).
		if refundCents == 0 {
			refundCents = b.Payment.AmountCents - b.Payment.RefundedCents
		}
	}

	decided, err := s.repo.Decide(ctx, d.ID, status, dec.Resolution, refundCents, strings.TrimSpace(dec.Notes), actor.ID, s.nowFn())
	if err != nil {
		return nil, err
	}
	s.logger.Info("dispute decided",
		"dispute_id", decided.ID,
		"booking_id", decided.BookingID,
		"resolution", string(dec.Resolution),
		"refund_cents", refundCents,
	)
	return decided, nil
}

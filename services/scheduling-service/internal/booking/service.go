package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/availability"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/meetings"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/notify"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/outbox"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/payments"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

// Kafka topics, one per event type.
const (
	EventCreated         = "booking.created.v1"
	EventConfirmed       = "booking.confirmed.v1"
	EventDeclined        = "booking.declined.v1"
	EventCanceled        = "booking.canceled.v1"
	EventCompleted       = "booking.completed.v1"
	EventNoShow          = "booking.no_show.v1"
	EventRescheduled     = "booking.rescheduled.v1"
	EventRefundRequested = "booking.refund.requested.v1"
	EventRefundSettled   = "booking.refund.settled.v1"
)

// ListFilter narrows booking listings. Zero values mean "any".
type ListFilter struct {
	CustomerID string
	IdentityID string
	Status     model.BookingStatus
	From       time.Time
	To         time.Time
	Limit      int
}

// Store persists bookings. Transition loads the row FOR UPDATE, runs
// fn inside the transaction, then writes the mutated booking back;
// any error from fn rolls the whole thing back.
type Store interface {
	Create(ctx context.Context, b *model.Booking, post func(ctx context.Context, tx pgx.Tx) error) error
	Get(ctx context.Context, id string) (*model.Booking, error)
	GetByTxnID(ctx context.Context, txnID string) (*model.Booking, error)
	Transition(ctx context.Context, id string, fn func(ctx context.Context, tx pgx.Tx, b *model.Booking) error) (*model.Booking, error)
	AnyBlockingOverlap(ctx context.Context, identityID string, profileIDs []string, start, end time.Time, excludeID string) (bool, error)
	BlockingIntervals(ctx context.Context, identityID string, profileIDs []string, from, to time.Time) ([]availability.Interval, error)
	HasActiveDuplicate(ctx context.Context, customerID, serviceID string, start time.Time) (bool, error)
	List(ctx context.Context, f ListFilter) ([]*model.Booking, error)
	StatsByStatus(ctx context.Context, identityID string, from, to time.Time) (map[model.BookingStatus]int, error)
}

// AvailabilityStore reads the active schedule of an identity. A nil
// record (no error) means the identity has not published one.
type AvailabilityStore interface {
	GetActive(ctx context.Context, identityID string) (*model.Availability, error)
}

// EventRecorder writes domain events inside the caller's transaction.
// The outbox repository is the production implementation.
type EventRecorder interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// Service owns the booking lifecycle. All state changes run through
// Store.Transition so status, payment, timeline and outbox events
// commit atomically.
type Service struct {
	store    Store
	avail    AvailabilityStore
	dir      profiles.Directory
	catalog  profiles.Catalog
	gateway  payments.Gateway
	meetings meetings.Provisioner
	events   EventRecorder
	notify   notify.Sender
	logger   *slog.Logger
	feeRate  float64
	nowFn    func() time.Time
}

type Config struct {
	Store        Store
	Availability AvailabilityStore
	Directory    profiles.Directory
	Catalog      profiles.Catalog
	Gateway      payments.Gateway
	Meetings     meetings.Provisioner
	Events       EventRecorder
	Notify       notify.Sender
	Logger       *slog.Logger
	FeeRate      float64 // platform cut, defaults to 0.10
}

func NewService(cfg Config) *Service {
	feeRate := cfg.FeeRate
	if feeRate <= 0 || feeRate >= 1 {
		feeRate = 0.10
	}
	return &Service{
		store:    cfg.Store,
		avail:    cfg.Availability,
		dir:      cfg.Directory,
		catalog:  cfg.Catalog,
		gateway:  cfg.Gateway,
		meetings: cfg.Meetings,
		events:   cfg.Events,
		notify:   cfg.Notify,
		logger:   cfg.Logger,
		feeRate:  feeRate,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Tests only.
func (s *Service) SetNow(fn func() time.Time) { s.nowFn = fn }

type CreateRequest struct {
	Actor        Actor
	ProfileID    string
	ServiceID    string
	StartAt      time.Time
	CustomerNote string
	// PaymentTxnID carries a hold already placed by the client flow.
	// When empty, the service places the hold itself.
	PaymentTxnID string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	if err := req.Actor.require(CapCreate, "create bookings"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ProfileID) == "" || strings.TrimSpace(req.ServiceID) == "" {
		return nil, Validationf("profileId and serviceId are required")
	}
	now := s.nowFn()
	if !req.StartAt.After(now) {
		return nil, Validationf("startAt must be in the future")
	}

	identityID, err := s.dir.ResolveIdentity(ctx, req.ProfileID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return nil, &NotFoundError{Kind: "profile", ID: req.ProfileID}
		}
		return nil, err
	}

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return nil, &NotFoundError{Kind: "service", ID: req.ServiceID}
		}
		return nil, err
	}
	if !svc.Active {
		return nil, Validationf("service %s is not bookable", req.ServiceID)
	}
	if svc.IdentityID != identityID {
		return nil, Validationf("service %s does not belong to this expert", req.ServiceID)
	}
	if svc.DurationMinutes <= 0 {
		return nil, Validationf("service %s has no duration configured", req.ServiceID)
	}

	av, err := s.avail.GetActive(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, Validationf("expert has not published availability")
	}
	loc, err := time.LoadLocation(av.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", av.Timezone, err)
	}

	startAt := req.StartAt.UTC()
	endAt := startAt.Add(time.Duration(svc.DurationMinutes) * time.Minute)
	if !availability.CoversInterval(av, loc, startAt, endAt) {
		return nil, Validationf("requested time is outside the expert's availability")
	}

	dup, err := s.store.HasActiveDuplicate(ctx, req.Actor.ID, req.ServiceID, startAt)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, Conflictf("an active booking for this service at this time already exists")
	}

	if err := s.assertFree(ctx, identityID, startAt, endAt, ""); err != nil {
		return nil, err
	}

	b := &model.Booking{
		ID:         uuid.New().String(),
		Code:       newBookingCode(),
		IdentityID: identityID,
		ProfileID:  req.ProfileID,
		CustomerID: req.Actor.ID,
		ServiceID:  svc.ID,
		Snapshot: model.ServiceSnapshot{
			Title:           svc.Title,
			DurationMinutes: svc.DurationMinutes,
			PriceCents:      svc.PriceCents,
			Currency:        svc.Currency,
		},
		StartAt:      startAt,
		EndAt:        endAt,
		Timezone:     av.Timezone,
		Status:       model.BookingPending,
		Policy:       model.DefaultPolicy(),
		CustomerNote: strings.TrimSpace(req.CustomerNote),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.Payment = model.Payment{
		Status:      model.PaymentPending,
		AmountCents: svc.PriceCents,
		Currency:    svc.Currency,
	}

	if req.PaymentTxnID != "" {
		b.Payment.Status = model.PaymentAuthorized
		b.Payment.TxnID = req.PaymentTxnID
	} else if svc.PriceCents > 0 {
		auth, err := s.gateway.Authorize(ctx, svc.PriceCents, svc.Currency, b.ID, req.Actor.ID)
		if err != nil {
			return nil, &GatewayError{Op: "authorize", Err: err}
		}
		b.Payment.Status = model.PaymentAuthorized
		b.Payment.TxnID = auth.TxnID
	}

	b.Append(req.Actor.Role, "created", map[string]any{"code": b.Code})

	err = s.store.Create(ctx, b, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.record(ctx, tx, b, EventCreated, nil); err != nil {
			return err
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: identityID,
			Channel:     "push",
			Template:    "booking_requested",
			BookingID:   b.ID,
			Data:        map[string]any{"code": b.Code, "start_at": startAt.Format(time.RFC3339)},
		})
	})
	if err != nil {
		// The hold is orphaned if the insert lost a race; release it so
		// funds are not stuck until expiry.
		if req.PaymentTxnID == "" && b.Payment.TxnID != "" {
			if cancelErr := s.gateway.CancelAuthorization(ctx, b.Payment.TxnID); cancelErr != nil {
				s.logger.Error("failed to release orphaned authorization", "txn_id", b.Payment.TxnID, "err", cancelErr)
			}
		}
		return nil, err
	}

	s.logger.Info("booking created",
		"booking_id", b.ID,
		"code", b.Code,
		"identity_id", identityID,
		"start_at", startAt.Format(time.RFC3339),
	)
	return b, nil
}

// Accept confirms a pending booking: re-checks the overlap guard,
// captures the hold, and provisions the meeting (best effort).
func (s *Service) Accept(ctx context.Context, actor Actor, id string) (*model.Booking, error) {
	if err := actor.require(CapAccept, "accept bookings"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status != model.BookingPending {
			return Conflictf("booking is %s, only PENDING bookings can be accepted", b.Status)
		}
		if b.Payment.AmountCents > 0 && b.Payment.Status != model.PaymentAuthorized {
			return Conflictf("payment is %s, expected AUTHORIZED", b.Payment.Status)
		}

		// The unique index only covers exact duplicates; a partially
		// overlapping booking confirmed since creation must fail here,
		// before any money moves.
		if err := s.assertFree(ctx, b.IdentityID, b.StartAt, b.EndAt, b.ID); err != nil {
			return err
		}

		if b.Payment.AmountCents > 0 {
			if err := s.gateway.Capture(ctx, b.Payment.TxnID); err != nil {
				return &GatewayError{Op: "capture", Err: err}
			}
			s.applyCapture(&b.Payment)
		}

		b.Status = model.BookingConfirmed
		b.UpdatedAt = s.nowFn()
		b.Append(actor.Role, "accepted", nil)

		topic := fmt.Sprintf("%s: %s", b.Code, b.Snapshot.Title)
		meeting, err := s.meetings.Provision(ctx, b.ID, topic, b.StartAt, time.Duration(b.Snapshot.DurationMinutes)*time.Minute)
		if err != nil {
			// Soft failure: the booking confirms without a meeting link.
			s.logger.Warn("meeting provisioning failed", "booking_id", b.ID, "err", err)
			b.Append(model.ActorSystem, "meeting_provision_failed", map[string]any{"error": err.Error()})
		} else if meeting.MeetingID != "" {
			b.Meeting = &meeting
			b.Append(model.ActorSystem, "meeting_provisioned", map[string]any{"provider": meeting.Provider})
		}

		if err := s.record(ctx, tx, b, EventConfirmed, nil); err != nil {
			return err
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: b.CustomerID,
			Channel:     "email",
			Template:    "booking_confirmed",
			BookingID:   b.ID,
			Data:        map[string]any{"code": b.Code, "start_at": b.StartAt.Format(time.RFC3339)},
		})
	})
}

// Decline rejects a pending booking and releases the hold.
func (s *Service) Decline(ctx context.Context, actor Actor, id, reason string) (*model.Booking, error) {
	if err := actor.require(CapDecline, "decline bookings"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status != model.BookingPending {
			return Conflictf("booking is %s, only PENDING bookings can be declined", b.Status)
		}
		if err := s.releaseHold(ctx, &b.Payment); err != nil {
			return err
		}

		b.Status = model.BookingCanceled
		b.UpdatedAt = s.nowFn()
		meta := map[string]any{}
		if strings.TrimSpace(reason) != "" {
			meta["reason"] = reason
		}
		b.Append(actor.Role, "declined", meta)

		if err := s.record(ctx, tx, b, EventDeclined, meta); err != nil {
			return err
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: b.CustomerID,
			Channel:     "email",
			Template:    "booking_declined",
			BookingID:   b.ID,
			Data:        map[string]any{"code": b.Code},
		})
	})
}

// CustomerCancel withdraws a still-pending request. Confirmed bookings
// go through Cancel, which enforces the cancellation window.
func (s *Service) CustomerCancel(ctx context.Context, actor Actor, id string) (*model.Booking, error) {
	if err := actor.require(CapCancelOwn, "cancel own bookings"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if !actor.ownsAsCustomer(b) {
			return Forbiddenf("booking belongs to another customer")
		}
		if b.Status != model.BookingPending {
			return Conflictf("booking is %s, only PENDING bookings can be withdrawn", b.Status)
		}
		if err := s.releaseHold(ctx, &b.Payment); err != nil {
			return err
		}

		b.Status = model.BookingCanceled
		b.UpdatedAt = s.nowFn()
		b.Append(actor.Role, "canceled", nil)

		if err := s.record(ctx, tx, b, EventCanceled, nil); err != nil {
			return err
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: b.IdentityID,
			Channel:     "push",
			Template:    "booking_withdrawn",
			BookingID:   b.ID,
			Data:        map[string]any{"code": b.Code},
		})
	})
}

// Reschedule moves a confirmed booking. The reschedule window applies
// to customers and experts; admins bypass it.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id string, newStart time.Time) (*model.Booking, error) {
	if err := actor.require(CapReschedule, "reschedule bookings"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorCustomer && !actor.ownsAsCustomer(b) {
			return Forbiddenf("booking belongs to another customer")
		}
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status != model.BookingConfirmed {
			return Conflictf("booking is %s, only CONFIRMED bookings can be rescheduled", b.Status)
		}

		now := s.nowFn()
		if actor.Role != model.ActorAdmin {
			gate := b.StartAt.Add(-time.Duration(b.Policy.RescheduleBeforeHours) * time.Hour)
			if !now.Before(gate) {
				return Conflictf("reschedule window closed (%dh before start)", b.Policy.RescheduleBeforeHours)
			}
		}
		newStart = newStart.UTC()
		if !newStart.After(now) {
			return Validationf("new start must be in the future")
		}
		newEnd := newStart.Add(time.Duration(b.Snapshot.DurationMinutes) * time.Minute)

		if err := s.assertFree(ctx, b.IdentityID, newStart, newEnd, b.ID); err != nil {
			return err
		}

		meta := map[string]any{
			"from": b.StartAt.Format(time.RFC3339),
			"to":   newStart.Format(time.RFC3339),
		}
		b.StartAt = newStart
		b.EndAt = newEnd
		b.UpdatedAt = now
		b.Append(actor.Role, "rescheduled", meta)

		if err := s.record(ctx, tx, b, EventRescheduled, meta); err != nil {
			return err
		}
		recipient := b.CustomerID
		if actor.Role == model.ActorCustomer {
			recipient = b.IdentityID
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: recipient,
			Channel:     "email",
			Template:    "booking_rescheduled",
			BookingID:   b.ID,
			Data:        meta,
		})
	})
}

// Start moves a confirmed booking into the session.
func (s *Service) Start(ctx context.Context, actor Actor, id string) (*model.Booking, error) {
	if err := actor.require(CapStart, "start sessions"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status != model.BookingConfirmed {
			return Conflictf("booking is %s, only CONFIRMED bookings can start", b.Status)
		}
		b.Status = model.BookingInProgress
		b.UpdatedAt = s.nowFn()
		b.Append(actor.Role, "started", nil)
		return nil
	})
}

// Complete finishes a session. A payment still sitting at AUTHORIZED
// (zero-amount accepts skip capture; legacy rows) is captured here so
// completion always leaves the money settled.
func (s *Service) Complete(ctx context.Context, actor Actor, id string) (*model.Booking, error) {
	if err := actor.require(CapComplete, "complete sessions"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status != model.BookingInProgress && b.Status != model.BookingConfirmed {
			return Conflictf("booking is %s, cannot complete", b.Status)
		}

		if b.Payment.AmountCents > 0 && b.Payment.Status == model.PaymentAuthorized {
			if err := s.gateway.Capture(ctx, b.Payment.TxnID); err != nil {
				return &GatewayError{Op: "capture", Err: err}
			}
			s.applyCapture(&b.Payment)
			b.Append(model.ActorSystem, "payment_captured", nil)
		}

		b.Status = model.BookingCompleted
		b.UpdatedAt = s.nowFn()
		b.Append(actor.Role, "completed", nil)

		if err := s.record(ctx, tx, b, EventCompleted, nil); err != nil {
			return err
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: b.CustomerID,
			Channel:     "push",
			Template:    "booking_completed",
			BookingID:   b.ID,
			Data:        map[string]any{"code": b.Code},
		})
	})
}

// Cancel cancels any non-terminal booking. Outside the cancellation
// window only admins may proceed. A captured payment starts a refund;
// an authorized one is released.
func (s *Service) Cancel(ctx context.Context, actor Actor, id, reason string) (*model.Booking, error) {
	if actor.Role == model.ActorCustomer {
		if err := actor.require(CapCancelOwn, "cancel bookings"); err != nil {
			return nil, err
		}
	} else if err := actor.require(CapCancel, "cancel bookings"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorCustomer && !actor.ownsAsCustomer(b) {
			return Forbiddenf("booking belongs to another customer")
		}
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status.Terminal() {
			return Conflictf("booking is already %s", b.Status)
		}

		now := s.nowFn()
		if b.Status != model.BookingPending && !actor.Can(CapBypassCancelWindow) {
			gate := b.StartAt.Add(-time.Duration(b.Policy.CancelBeforeHours) * time.Hour)
			if !now.Before(gate) {
				return Conflictf("cancellation window closed (%dh before start)", b.Policy.CancelBeforeHours)
			}
		}

		meta := map[string]any{}
		if strings.TrimSpace(reason) != "" {
			meta["reason"] = reason
		}

		switch b.Payment.Status {
		case model.PaymentAuthorized:
			if err := s.releaseHold(ctx, &b.Payment); err != nil {
				return err
			}
		case model.PaymentCaptured:
			remaining := b.Payment.AmountCents - b.Payment.RefundedCents
			if remaining > 0 {
				rf, err := s.gateway.Refund(ctx, b.Payment.TxnID, remaining, "booking canceled")
				if err != nil {
					return &GatewayError{Op: "refund", Err: err}
				}
				b.Payment.Status = model.PaymentRefundPending
				meta["refund_id"] = rf.RefundID
				meta["refund_cents"] = remaining
			}
		}

		b.Status = model.BookingCanceled
		b.UpdatedAt = now
		b.Append(actor.Role, "canceled", meta)

		if err := s.record(ctx, tx, b, EventCanceled, meta); err != nil {
			return err
		}
		recipient := b.CustomerID
		if actor.Role == model.ActorCustomer {
			recipient = b.IdentityID
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: recipient,
			Channel:     "email",
			Template:    "booking_canceled",
			BookingID:   b.ID,
			Data:        map[string]any{"code": b.Code},
		})
	})
}

// MarkNoShow records that the customer did not attend. The captured
// payment is left untouched; penalties are a policy decision applied
// out of band.
func (s *Service) MarkNoShow(ctx context.Context, actor Actor, id string) (*model.Booking, error) {
	if err := actor.require(CapNoShow, "mark no-shows"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if actor.Role == model.ActorExpert && !actor.ownsAsExpert(b) {
			return Forbiddenf("booking belongs to another expert")
		}
		if b.Status != model.BookingConfirmed && b.Status != model.BookingInProgress {
			return Conflictf("booking is %s, cannot mark no-show", b.Status)
		}
		b.Status = model.BookingNoShow
		b.UpdatedAt = s.nowFn()
		b.Append(actor.Role, "no_show", nil)
		return s.record(ctx, tx, b, EventNoShow, nil)
	})
}

// Review attaches or updates the customer's review of a completed
// session.
func (s *Service) Review(ctx context.Context, actor Actor, id string, rating int, comment string) (*model.Booking, error) {
	if err := actor.require(CapReview, "review bookings"); err != nil {
		return nil, err
	}
	if rating < 1 || rating > 5 {
		return nil, Validationf("rating must be between 1 and 5")
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if !actor.ownsAsCustomer(b) {
			return Forbiddenf("booking belongs to another customer")
		}
		if b.Status != model.BookingCompleted {
			return Conflictf("booking is %s, only COMPLETED bookings can be reviewed", b.Status)
		}
		now := s.nowFn()
		if b.Review == nil {
			b.Review = &model.Review{Rating: rating, Comment: comment, CreatedAt: now, UpdatedAt: now}
		} else {
			b.Review.Rating = rating
			b.Review.Comment = comment
			b.Review.UpdatedAt = now
		}
		b.UpdatedAt = now
		b.Append(actor.Role, "reviewed", map[string]any{"rating": rating})
		return nil
	})
}

// RequestRefund moves a captured booking into the refund flow on
// behalf of a dispute decision. amountCents of 0 means the full
// remaining balance.
func (s *Service) RequestRefund(ctx context.Context, actor Actor, id string, amountCents int64, reason string) (*model.Booking, error) {
	if err := actor.require(CapDecideDispute, "order refunds"); err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, id, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if b.Payment.Status != model.PaymentCaptured {
			return Conflictf("payment is %s, only CAPTURED payments can be refunded", b.Payment.Status)
		}
		remaining := b.Payment.AmountCents - b.Payment.RefundedCents
		if amountCents <= 0 || amountCents > remaining {
			amountCents = remaining
		}
		if amountCents <= 0 {
			return Conflictf("nothing left to refund")
		}

		rf, err := s.gateway.Refund(ctx, b.Payment.TxnID, amountCents, reason)
		if err != nil {
			return &GatewayError{Op: "refund", Err: err}
		}

		b.Payment.Status = model.PaymentRefundPending
		b.Status = model.BookingRefundRequested
		b.UpdatedAt = s.nowFn()
		meta := map[string]any{"refund_id": rf.RefundID, "refund_cents": amountCents}
		b.Append(actor.Role, "refund_requested", meta)
		return s.record(ctx, tx, b, EventRefundRequested, meta)
	})
}

// SettleRefund records gateway confirmation that a refund landed. It
// is driven by the Stripe webhook and, as a backstop, the reconciler;
// both may deliver the same settlement, so it is idempotent on
// payment status.
func (s *Service) SettleRefund(ctx context.Context, txnID string, amountCents int64) (*model.Booking, error) {
	existing, err := s.store.GetByTxnID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	return s.store.Transition(ctx, existing.ID, func(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
		if b.Payment.Status != model.PaymentRefundPending {
			return nil // already settled or never pending, nothing to do
		}
		b.Payment.RefundedCents += amountCents
		if b.Payment.RefundedCents > b.Payment.AmountCents {
			b.Payment.RefundedCents = b.Payment.AmountCents
		}
		b.Payment.Status = model.PaymentRefunded
		if b.Status == model.BookingRefundRequested {
			b.Status = model.BookingRefunded
		}
		b.UpdatedAt = s.nowFn()
		meta := map[string]any{"refund_cents": amountCents}
		b.Append(model.ActorSystem, "refund_settled", meta)

		if err := s.record(ctx, tx, b, EventRefundSettled, meta); err != nil {
			return err
		}
		return s.notify.Send(ctx, tx, notify.Notification{
			RecipientID: b.CustomerID,
			Channel:     "email",
			Template:    "refund_settled",
			BookingID:   b.ID,
			Data:        meta,
		})
	})
}

func (s *Service) Get(ctx context.Context, id string) (*model.Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*model.Booking, error) {
	return s.store.List(ctx, f)
}

func (s *Service) Stats(ctx context.Context, identityID string, from, to time.Time) (map[model.BookingStatus]int, error) {
	return s.store.StatsByStatus(ctx, identityID, from, to)
}

// Slots returns the expert's free intervals for a civil date range.
// No published availability means no slots, not an error.
func (s *Service) Slots(ctx context.Context, profileID string, from, to timeutil.CivilDate, duration time.Duration) ([]availability.Interval, error) {
	av, loc, identityID, err := s.activeSchedule(ctx, profileID)
	if err != nil || av == nil {
		return nil, err
	}
	busy, err := s.busyIntervals(ctx, identityID, loc, from, to)
	if err != nil {
		return nil, err
	}
	return availability.Slots(av, loc, from, to, duration, busy), nil
}

// CalendarStatus returns the per-day projection for a civil date range.
func (s *Service) CalendarStatus(ctx context.Context, profileID string, from, to timeutil.CivilDate, duration time.Duration) ([]availability.Day, error) {
	av, loc, identityID, err := s.activeSchedule(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if av == nil {
		var days []availability.Day
		for d := from; d.Before(to); d = d.Next() {
			days = append(days, availability.Day{Date: d.String(), Status: availability.DayOff, Slots: []availability.DaySlot{}})
		}
		return days, nil
	}
	busy, err := s.busyIntervals(ctx, identityID, loc, from, to)
	if err != nil {
		return nil, err
	}
	return availability.Calendar(av, loc, from, to, duration, busy), nil
}

func (s *Service) activeSchedule(ctx context.Context, profileID string) (*model.Availability, *time.Location, string, error) {
	identityID, err := s.dir.ResolveIdentity(ctx, profileID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return nil, nil, "", &NotFoundError{Kind: "profile", ID: profileID}
		}
		return nil, nil, "", err
	}
	av, err := s.avail.GetActive(ctx, identityID)
	if err != nil {
		return nil, nil, "", err
	}
	if av == nil {
		return nil, nil, identityID, nil
	}
	loc, err := time.LoadLocation(av.Timezone)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load timezone %q: %w", av.Timezone, err)
	}
	return av, loc, identityID, nil
}

func (s *Service) busyIntervals(ctx context.Context, identityID string, loc *time.Location, from, to timeutil.CivilDate) ([]availability.Interval, error) {
	profileIDs, err := s.dir.ListProfileIDs(ctx, identityID)
	if err != nil {
		return nil, err
	}
	// Pad by a day on both sides so local-date boundary slots still see
	// bookings whose UTC instants fall on the neighboring civil date.
	rangeStart := from.AtMinute(0, loc).Add(-24 * time.Hour)
	rangeEnd := to.AtMinute(0, loc).Add(24 * time.Hour)
	return s.store.BlockingIntervals(ctx, identityID, profileIDs, rangeStart, rangeEnd)
}

// assertFree is the hard non-overlap invariant: no blocking booking of
// the same provider identity, through any of its profiles, may
// intersect the interval.
func (s *Service) assertFree(ctx context.Context, identityID string, start, end time.Time, excludeID string) error {
	profileIDs, err := s.dir.ListProfileIDs(ctx, identityID)
	if err != nil {
		return err
	}
	hit, err := s.store.AnyBlockingOverlap(ctx, identityID, profileIDs, start, end, excludeID)
	if err != nil {
		return err
	}
	if hit {
		return Conflictf("time conflicts with an existing booking")
	}
	return nil
}

func (s *Service) applyCapture(p *model.Payment) {
	p.Status = model.PaymentCaptured
	p.PlatformFeeCents = int64(math.Round(float64(p.AmountCents) * s.feeRate))
	p.NetToExpertCents = p.AmountCents - p.PlatformFeeCents
}

// releaseHold cancels an AUTHORIZED hold. Other payment states are
// left alone; CAPTURED in particular must never be silently voided.
func (s *Service) releaseHold(ctx context.Context, p *model.Payment) error {
	if p.Status != model.PaymentAuthorized {
		if p.Status == model.PaymentPending {
			p.Status = model.PaymentCanceled
		}
		return nil
	}
	if p.TxnID != "" {
		if err := s.gateway.CancelAuthorization(ctx, p.TxnID); err != nil {
			return &GatewayError{Op: "cancel_authorization", Err: err}
		}
	}
	p.Status = model.PaymentCanceled
	return nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, b *model.Booking, eventType string, extra map[string]any) error {
	payload := map[string]any{
		"booking_id":  b.ID,
		"code":        b.Code,
		"identity_id": b.IdentityID,
		"customer_id": b.CustomerID,
		"status":      string(b.Status),
		"start_at":    b.StartAt.UTC().Format(time.RFC3339),
		"end_at":      b.EndAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	evt, err := outbox.NewEvent("booking", b.ID, eventType, payload)
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, evt)
}

func newBookingCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "BK-" + raw[:8]
}

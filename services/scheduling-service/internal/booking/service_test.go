package booking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/availability"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/notify"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/outbox"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/payments"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
)

// fixedNow is a Monday. Booking starts default to fixedStart, a
// Wednesday morning two days later.
var (
	fixedNow   = time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	fixedStart = time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
)

type memStore struct {
	bookings  map[string]*model.Booking
	createErr error
}

func newMemStore() *memStore {
	return &memStore{bookings: map[string]*model.Booking{}}
}

func (m *memStore) Create(ctx context.Context, b *model.Booking, post func(ctx context.Context, tx pgx.Tx) error) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *b
	cp.Timeline = append([]model.TimelineEntry(nil), b.Timeline...)
	if post != nil {
		if err := post(ctx, nil); err != nil {
			return err
		}
	}
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*model.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, &booking.NotFoundError{Kind: "booking", ID: id}
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetByTxnID(_ context.Context, txnID string) (*model.Booking, error) {
	for _, b := range m.bookings {
		if b.Payment.TxnID == txnID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, &booking.NotFoundError{Kind: "booking", ID: txnID}
}

func (m *memStore) Transition(ctx context.Context, id string, fn func(ctx context.Context, tx pgx.Tx, b *model.Booking) error) (*model.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, &booking.NotFoundError{Kind: "booking", ID: id}
	}
	cp := *b
	cp.Timeline = append([]model.TimelineEntry(nil), b.Timeline...)
	if err := fn(ctx, nil, &cp); err != nil {
		return nil, err
	}
	m.bookings[id] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) AnyBlockingOverlap(_ context.Context, identityID string, _ []string, start, end time.Time, excludeID string) (bool, error) {
	for _, b := range m.bookings {
		if b.ID == excludeID || b.IdentityID != identityID || !b.Status.Blocking() {
			continue
		}
		if availability.Overlaps(start, end, b.StartAt, b.EndAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) BlockingIntervals(_ context.Context, identityID string, _ []string, from, to time.Time) ([]availability.Interval, error) {
	var out []availability.Interval
	for _, b := range m.bookings {
		if b.IdentityID != identityID || !b.Status.Blocking() {
			continue
		}
		if availability.Overlaps(from, to, b.StartAt, b.EndAt) {
			out = append(out, availability.Interval{Start: b.StartAt, End: b.EndAt})
		}
	}
	return out, nil
}

func (m *memStore) HasActiveDuplicate(_ context.Context, customerID, serviceID string, start time.Time) (bool, error) {
	for _, b := range m.bookings {
		if b.CustomerID != customerID || b.ServiceID != serviceID || !b.StartAt.Equal(start) {
			continue
		}
		switch b.Status {
		case model.BookingCompleted, model.BookingCanceled, model.BookingNoShow, model.BookingRefunded:
		default:
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) List(_ context.Context, _ booking.ListFilter) ([]*model.Booking, error) {
	var out []*model.Booking
	for _, b := range m.bookings {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) StatsByStatus(_ context.Context, identityID string, _, _ time.Time) (map[model.BookingStatus]int, error) {
	stats := map[model.BookingStatus]int{}
	for _, b := range m.bookings {
		if b.IdentityID == identityID {
			stats[b.Status]++
		}
	}
	return stats, nil
}

type fakeGateway struct {
	authorizeCalls int
	captureCalls   int
	cancelCalls    int
	refundCalls    int

	authorizeErr error
	captureErr   error
	refundErr    error
}

func (g *fakeGateway) Authorize(_ context.Context, amountCents int64, currency, _, _ string) (payments.Authorization, error) {
	g.authorizeCalls++
	if g.authorizeErr != nil {
		return payments.Authorization{}, g.authorizeErr
	}
	return payments.Authorization{
		TxnID:       fmt.Sprintf("pi_test_%d", g.authorizeCalls),
		AmountCents: amountCents,
		Currency:    currency,
	}, nil
}

func (g *fakeGateway) Capture(_ context.Context, _ string) error {
	g.captureCalls++
	return g.captureErr
}

func (g *fakeGateway) CancelAuthorization(_ context.Context, _ string) error {
	g.cancelCalls++
	return nil
}

func (g *fakeGateway) Refund(_ context.Context, txnID string, amountCents int64, _ string) (payments.Refund, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return payments.Refund{}, g.refundErr
	}
	return payments.Refund{RefundID: fmt.Sprintf("re_test_%d", g.refundCalls), TxnID: txnID, AmountCents: amountCents}, nil
}

type fakeProvisioner struct {
	err error
}

func (p *fakeProvisioner) Provision(_ context.Context, _, _ string, _ time.Time, _ time.Duration) (model.Meeting, error) {
	if p.err != nil {
		return model.Meeting{}, p.err
	}
	return model.Meeting{Provider: "zoom", MeetingID: "m-1", JoinURL: "https://zoom.example/j/m-1"}, nil
}

func (p *fakeProvisioner) ProviderID() string { return "zoom" }

type eventLog struct {
	types []string
}

func (l *eventLog) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	l.types = append(l.types, evt.EventType)
	return nil
}

func (l *eventLog) has(eventType string) bool {
	for _, t := range l.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type noteLog struct {
	sent []notify.Notification
}

func (l *noteLog) Send(_ context.Context, _ pgx.Tx, n notify.Notification) error {
	l.sent = append(l.sent, n)
	return nil
}

type fakeDirectory struct {
	identities map[string]string // profileID -> identityID
	services   map[string]profiles.Service
}

func (d *fakeDirectory) ResolveIdentity(_ context.Context, profileID string) (string, error) {
	id, ok := d.identities[profileID]
	if !ok {
		return "", profiles.ErrNotFound
	}
	return id, nil
}

func (d *fakeDirectory) ListProfileIDs(_ context.Context, identityID string) ([]string, error) {
	var out []string
	for p, id := range d.identities {
		if id == identityID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetService(_ context.Context, serviceID string) (profiles.Service, error) {
	svc, ok := d.services[serviceID]
	if !ok {
		return profiles.Service{}, profiles.ErrNotFound
	}
	return svc, nil
}

type fakeAvail struct {
	av *model.Availability
}

func (f *fakeAvail) GetActive(_ context.Context, _ string) (*model.Availability, error) {
	return f.av, nil
}

func allWeekAvailability() *model.Availability {
	rules := make([]model.WeeklyRule, 0, 7)
	for d := 0; d < 7; d++ {
		rules = append(rules, model.WeeklyRule{DayOfWeek: d, Start: "08:00", End: "20:00"})
	}
	return &model.Availability{
		ID:         "av-1",
		IdentityID: "exp-1",
		Status:     model.AvailabilityActive,
		Timezone:   "UTC",
		Rules:      rules,
	}
}

type fixture struct {
	store  *memStore
	gw     *fakeGateway
	meet   *fakeProvisioner
	events *eventLog
	notes  *noteLog
	svc    *booking.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemStore(),
		gw:     &fakeGateway{},
		meet:   &fakeProvisioner{},
		events: &eventLog{},
		notes:  &noteLog{},
	}
	dir := &fakeDirectory{
		identities: map[string]string{"prof-1": "exp-1"},
		services: map[string]profiles.Service{
			"svc-1": {ID: "svc-1", IdentityID: "exp-1", Title: "Career coaching", DurationMinutes: 60, PriceCents: 5000, Currency: "usd", Active: true},
			"svc-2": {ID: "svc-2", IdentityID: "exp-1", Title: "Quick review", DurationMinutes: 30, PriceCents: 999, Currency: "usd", Active: true},
		},
	}
	f.svc = booking.NewService(booking.Config{
		Store:        f.store,
		Availability: &fakeAvail{av: allWeekAvailability()},
		Directory:    dir,
		Catalog:      dir,
		Gateway:      f.gw,
		Meetings:     f.meet,
		Events:       f.events,
		Notify:       f.notes,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.svc.SetNow(func() time.Time { return fixedNow })
	return f
}

var (
	customer = booking.Actor{Role: model.ActorCustomer, ID: "cust-1"}
	expert   = booking.Actor{Role: model.ActorExpert, ID: "exp-1"}
	admin    = booking.Actor{Role: model.ActorAdmin, ID: "admin-1"}
)

func (f *fixture) create(t *testing.T) *model.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     customer,
		ProfileID: "prof-1",
		ServiceID: "svc-1",
		StartAt:   fixedStart,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return b
}

func TestCreateAuthorizesHold(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	if b.Status != model.BookingPending {
		t.Fatalf("status = %s, want PENDING", b.Status)
	}
	if b.Payment.Status != model.PaymentAuthorized || b.Payment.TxnID == "" {
		t.Fatalf("payment = %+v, want AUTHORIZED with txn id", b.Payment)
	}
	if f.gw.authorizeCalls != 1 {
		t.Fatalf("authorize calls = %d, want 1", f.gw.authorizeCalls)
	}
	if !f.events.has(booking.EventCreated) {
		t.Fatalf("missing %s event, got %v", booking.EventCreated, f.events.types)
	}
	if len(f.notes.sent) != 1 || f.notes.sent[0].Template != "booking_requested" || f.notes.sent[0].RecipientID != "exp-1" {
		t.Fatalf("notifications = %+v", f.notes.sent)
	}
}

func TestCreateOutsideAvailability(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     customer,
		ProfileID: "prof-1",
		ServiceID: "svc-1",
		StartAt:   time.Date(2026, 2, 4, 21, 0, 0, 0, time.UTC), // after 20:00 window end
	})
	var vErr *booking.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCreateRejectsOverlapWithConfirmed(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Same identity, half-overlapping interval, different customer.
	_, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     booking.Actor{Role: model.ActorCustomer, ID: "cust-2"},
		ProfileID: "prof-1",
		ServiceID: "svc-1",
		StartAt:   fixedStart.Add(30 * time.Minute),
	})
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestCreateRejectsActiveDuplicate(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	_, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     customer,
		ProfileID: "prof-1",
		ServiceID: "svc-1",
		StartAt:   fixedStart,
	})
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if f.gw.authorizeCalls != 1 {
		t.Fatalf("authorize calls = %d, want 1 (no hold for the duplicate)", f.gw.authorizeCalls)
	}
}

func TestCreateReleasesOrphanedHold(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("insert lost race")

	_, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     customer,
		ProfileID: "prof-1",
		ServiceID: "svc-1",
		StartAt:   fixedStart,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if f.gw.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d, want 1 (orphaned hold released)", f.gw.cancelCalls)
	}
}

func TestAcceptCapturesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	got, err := f.svc.Accept(context.Background(), expert, b.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.Status != model.BookingConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
	if got.Payment.Status != model.PaymentCaptured {
		t.Fatalf("payment = %s, want CAPTURED", got.Payment.Status)
	}
	if got.Payment.PlatformFeeCents != 500 || got.Payment.NetToExpertCents != 4500 {
		t.Fatalf("fee split = %d/%d, want 500/4500", got.Payment.PlatformFeeCents, got.Payment.NetToExpertCents)
	}
	if got.Meeting == nil || got.Meeting.JoinURL == "" {
		t.Fatalf("meeting = %+v, want provisioned", got.Meeting)
	}

	// Second accept must conflict without touching the gateway again.
	_, err = f.svc.Accept(context.Background(), expert, b.ID)
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("second accept err = %v, want ConflictError", err)
	}
	if f.gw.captureCalls != 1 {
		t.Fatalf("capture calls = %d, want 1", f.gw.captureCalls)
	}
}

func TestAcceptGatewayFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	f.gw.captureErr = errors.New("card declined")

	_, err := f.svc.Accept(context.Background(), expert, b.ID)
	var gErr *booking.GatewayError
	if !errors.As(err, &gErr) {
		t.Fatalf("err = %v, want GatewayError", err)
	}

	stored, err := f.svc.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != model.BookingPending || stored.Payment.Status != model.PaymentAuthorized {
		t.Fatalf("after failed capture: status=%s payment=%s, want PENDING/AUTHORIZED", stored.Status, stored.Payment.Status)
	}
}

func TestAcceptMeetingFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	f.meet.err = errors.New("zoom down")

	got, err := f.svc.Accept(context.Background(), expert, b.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.Status != model.BookingConfirmed {
		t.Fatalf("status = %s, want CONFIRMED despite meeting failure", got.Status)
	}
	if got.Meeting != nil {
		t.Fatalf("meeting = %+v, want nil", got.Meeting)
	}
	found := false
	for _, e := range got.Timeline {
		if e.Action == "meeting_provision_failed" {
			found = true
		}
	}
	if !found {
		t.Fatal("timeline missing meeting_provision_failed entry")
	}
}

func TestAcceptWrongExpert(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	_, err := f.svc.Accept(context.Background(), booking.Actor{Role: model.ActorExpert, ID: "exp-other"}, b.ID)
	var aErr *booking.AuthorizationError
	if !errors.As(err, &aErr) {
		t.Fatalf("err = %v, want AuthorizationError", err)
	}
}

func TestDeclineReleasesHold(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	got, err := f.svc.Decline(context.Background(), expert, b.ID, "not a fit")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got.Status != model.BookingCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}
	if got.Payment.Status != model.PaymentCanceled {
		t.Fatalf("payment = %s, want CANCELED", got.Payment.Status)
	}
	if f.gw.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d, want 1", f.gw.cancelCalls)
	}
}

func TestCustomerCancelPendingOnly(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	if _, err := f.svc.CustomerCancel(context.Background(), booking.Actor{Role: model.ActorCustomer, ID: "cust-2"}, b.ID); err == nil {
		t.Fatal("expected ownership error for another customer")
	}

	got, err := f.svc.CustomerCancel(context.Background(), customer, b.ID)
	if err != nil {
		t.Fatalf("CustomerCancel: %v", err)
	}
	if got.Status != model.BookingCanceled || got.Payment.Status != model.PaymentCanceled {
		t.Fatalf("got status=%s payment=%s", got.Status, got.Payment.Status)
	}

	// A withdrawn booking cannot be withdrawn again.
	b2 := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b2.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	_, err = f.svc.CustomerCancel(context.Background(), customer, b2.ID)
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError for confirmed booking", err)
	}
}

func TestRescheduleWindowGate(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Two hours before start the 24h reschedule window is closed.
	f.svc.SetNow(func() time.Time { return fixedStart.Add(-2 * time.Hour) })
	_, err := f.svc.Reschedule(context.Background(), customer, b.ID, fixedStart.Add(24*time.Hour))
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	// Admins bypass the window.
	newStart := fixedStart.Add(24 * time.Hour)
	got, err := f.svc.Reschedule(context.Background(), admin, b.ID, newStart)
	if err != nil {
		t.Fatalf("admin Reschedule: %v", err)
	}
	if !got.StartAt.Equal(newStart) || !got.EndAt.Equal(newStart.Add(time.Hour)) {
		t.Fatalf("rescheduled to %v-%v", got.StartAt, got.EndAt)
	}
}

func TestRescheduleRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	b1 := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b1.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	start2 := fixedStart.Add(3 * time.Hour)
	b2, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     booking.Actor{Role: model.ActorCustomer, ID: "cust-2"},
		ProfileID: "prof-1",
		ServiceID: "svc-1",
		StartAt:   start2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), expert, b2.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	_, err = f.svc.Reschedule(context.Background(), expert, b2.ID, fixedStart.Add(30*time.Minute))
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestCompleteCapturesAuthorized(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.svc.Start(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := f.svc.Complete(context.Background(), expert, b.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != model.BookingCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	// Accept already captured; Complete must not capture again.
	if f.gw.captureCalls != 1 {
		t.Fatalf("capture calls = %d, want 1", f.gw.captureCalls)
	}
	if !f.events.has(booking.EventCompleted) {
		t.Fatalf("missing %s event", booking.EventCompleted)
	}
}

func TestCancelConfirmedRefundsCapture(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	got, err := f.svc.Cancel(context.Background(), expert, b.ID, "emergency")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != model.BookingCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}
	if got.Payment.Status != model.PaymentRefundPending {
		t.Fatalf("payment = %s, want REFUND_PENDING", got.Payment.Status)
	}
	if f.gw.refundCalls != 1 {
		t.Fatalf("refund calls = %d, want 1", f.gw.refundCalls)
	}
}

func TestCancelWindowClosedForNonAdmin(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	f.svc.SetNow(func() time.Time { return fixedStart.Add(-2 * time.Hour) })
	_, err := f.svc.Cancel(context.Background(), expert, b.ID, "")
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	if _, err := f.svc.Cancel(context.Background(), admin, b.ID, "forced"); err != nil {
		t.Fatalf("admin Cancel: %v", err)
	}
}

func TestMarkNoShowLeavesPayment(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	got, err := f.svc.MarkNoShow(context.Background(), expert, b.ID)
	if err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}
	if got.Status != model.BookingNoShow {
		t.Fatalf("status = %s, want NO_SHOW", got.Status)
	}
	if got.Payment.Status != model.PaymentCaptured {
		t.Fatalf("payment = %s, want CAPTURED untouched", got.Payment.Status)
	}
	if f.gw.refundCalls != 0 {
		t.Fatalf("refund calls = %d, want 0", f.gw.refundCalls)
	}
}

func TestReviewRequiresCompletion(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := f.svc.Review(context.Background(), customer, b.ID, 5, "great"); err == nil {
		t.Fatal("expected conflict reviewing a confirmed booking")
	}
	if _, err := f.svc.Review(context.Background(), customer, b.ID, 9, ""); err == nil {
		t.Fatal("expected validation error for rating out of range")
	}

	if _, err := f.svc.Complete(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := f.svc.Review(context.Background(), customer, b.ID, 4, "solid session")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got.Review == nil || got.Review.Rating != 4 {
		t.Fatalf("review = %+v", got.Review)
	}

	// Re-reviewing updates in place.
	got, err = f.svc.Review(context.Background(), customer, b.ID, 5, "even better on reflection")
	if err != nil {
		t.Fatalf("second Review: %v", err)
	}
	if got.Review.Rating != 5 {
		t.Fatalf("rating = %d, want 5", got.Review.Rating)
	}
}

func TestRefundRequestAndSettlement(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.svc.Accept(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.svc.Complete(context.Background(), expert, b.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := f.svc.RequestRefund(context.Background(), admin, b.ID, 0, "dispute upheld")
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if got.Status != model.BookingRefundRequested || got.Payment.Status != model.PaymentRefundPending {
		t.Fatalf("got status=%s payment=%s", got.Status, got.Payment.Status)
	}

	settled, err := f.svc.SettleRefund(context.Background(), got.Payment.TxnID, 5000)
	if err != nil {
		t.Fatalf("SettleRefund: %v", err)
	}
	if settled.Status != model.BookingRefunded || settled.Payment.Status != model.PaymentRefunded {
		t.Fatalf("settled status=%s payment=%s", settled.Status, settled.Payment.Status)
	}
	if settled.Payment.RefundedCents != 5000 {
		t.Fatalf("refunded = %d, want 5000", settled.Payment.RefundedCents)
	}

	// Replay: webhook and reconciler may both deliver the settlement.
	again, err := f.svc.SettleRefund(context.Background(), got.Payment.TxnID, 5000)
	if err != nil {
		t.Fatalf("replayed SettleRefund: %v", err)
	}
	if again.Payment.RefundedCents != 5000 {
		t.Fatalf("replay changed refunded to %d", again.Payment.RefundedCents)
	}
}

func TestRequestRefundRequiresCapture(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	_, err := f.svc.RequestRefund(context.Background(), admin, b.ID, 0, "dispute")
	var cErr *booking.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want ConflictError on AUTHORIZED payment", err)
	}
}

func TestFeeRoundsHalfUp(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), booking.CreateRequest{
		Actor:     customer,
		ProfileID: "prof-1",
		ServiceID: "svc-2", // 999 cents
		StartAt:   fixedStart,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := f.svc.Accept(context.Background(), expert, b.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.Payment.PlatformFeeCents != 100 || got.Payment.NetToExpertCents != 899 {
		t.Fatalf("fee split = %d/%d, want 100/899", got.Payment.PlatformFeeCents, got.Payment.NetToExpertCents)
	}
}

func TestCustomerCannotAccept(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	_, err := f.svc.Accept(context.Background(), customer, b.ID)
	var aErr *booking.AuthorizationError
	if !errors.As(err, &aErr) {
		t.Fatalf("err = %v, want AuthorizationError", err)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/disputes"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
)

// AvailabilityStore is the slice of the availability repository the
// handlers use. Tests supply a fake.
type AvailabilityStore interface {
	GetActive(ctx context.Context, identityID string) (*model.Availability, error)
	Upsert(ctx context.Context, identityID string, av model.Availability) (*model.Availability, string, error)
}

// ProfileAdmin covers the profile approval operation.
type ProfileAdmin interface {
	Approve(ctx context.Context, profileID string) (profiles.Profile, error)
}

type Handler struct {
	bookings               *booking.Service
	disputes               *disputes.Service
	avail                  AvailabilityStore
	profileAdmin           ProfileAdmin
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

func New(bookings *booking.Service, disputeSvc *disputes.Service, avail AvailabilityStore, profileAdmin ProfileAdmin, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		bookings:               bookings,
		disputes:               disputeSvc,
		avail:                  avail,
		profileAdmin:           profileAdmin,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/experts/{profileID}/slots", h.Slots)
	mux.HandleFunc("GET /api/v1/experts/{profileID}/calendar-status", h.CalendarStatus)
	mux.HandleFunc("GET /api/v1/availability", h.GetAvailability)
	mux.HandleFunc("PUT /api/v1/availability", h.PutAvailability)
	mux.HandleFunc("POST /api/v1/bookings", h.CreateBooking)
	mux.HandleFunc("GET /api/v1/bookings", h.ListBookings)
	mux.HandleFunc("GET /api/v1/bookings/stats", h.BookingStats)
	mux.HandleFunc("GET /api/v1/bookings/{id}", h.GetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/accept", h.AcceptBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/decline", h.DeclineBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/reschedule", h.RescheduleBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/start", h.StartBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", h.CompleteBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", h.CancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/no-show", h.NoShowBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/review", h.ReviewBooking)
	mux.HandleFunc("POST /api/v1/disputes", h.OpenDispute)
	mux.HandleFunc("GET /api/v1/disputes", h.ListDisputes)
	mux.HandleFunc("POST /api/v1/disputes/{id}/decision", h.DecideDispute)
	mux.HandleFunc("POST /api/v1/profiles/{id}/approve", h.ApproveProfile)
	mux.HandleFunc("POST /api/v1/payments/stripe/webhook", h.StripeWebhook)
}

// actor reads the authenticated principal from the trust-boundary
// headers set by the layer in front of this service.
func (h *Handler) actor(r *http.Request) (booking.Actor, bool) {
	role := strings.ToUpper(strings.TrimSpace(r.Header.Get("X-Actor-Role")))
	id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	switch model.ActorRole(role) {
	case model.ActorCustomer, model.ActorExpert, model.ActorAdmin, model.ActorSystem:
	default:
		return booking.Actor{}, false
	}
	if id == "" {
		return booking.Actor{}, false
	}
	return booking.Actor{Role: model.ActorRole(role), ID: id}, true
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "missing or invalid actor headers", http.StatusUnauthorized)
	}
	return actor, ok
}

// writeDomainError maps the error taxonomy onto status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *booking.ValidationError
		nErr *booking.NotFoundError
		cErr *booking.ConflictError
		aErr *booking.AuthorizationError
		gErr *booking.GatewayError
	)
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
	case errors.As(err, &nErr):
		http.Error(w, nErr.Error(), http.StatusNotFound)
	case errors.As(err, &cErr):
		http.Error(w, cErr.Error(), http.StatusConflict)
	case errors.As(err, &aErr):
		http.Error(w, aErr.Error(), http.StatusForbidden)
	case errors.As(err, &gErr):
		h.logger.Error("payment gateway failure", "path", r.URL.Path, "err", err)
		http.Error(w, "payment gateway unavailable, retry later", http.StatusBadGateway)
	case errors.Is(err, profiles.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("internal error", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

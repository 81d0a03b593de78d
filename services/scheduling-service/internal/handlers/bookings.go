package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

type bookingResponse struct {
	ID           string                `json:"id"`
	Code         string                `json:"code"`
	ProfileID    string                `json:"profileId"`
	IdentityID   string                `json:"identityId"`
	CustomerID   string                `json:"customerId"`
	ServiceID    string                `json:"serviceId"`
	Snapshot     model.ServiceSnapshot `json:"snapshot"`
	StartAt      string                `json:"startAt"`
	EndAt        string                `json:"endAt"`
	Timezone     string                `json:"timezone"`
	Status       string                `json:"status"`
	Payment      model.Payment         `json:"payment"`
	Policy       model.Policy          `json:"policy"`
	Meeting      *model.Meeting        `json:"meeting,omitempty"`
	Review       *model.Review         `json:"review,omitempty"`
	CustomerNote string                `json:"customerNote,omitempty"`
	Timeline     []model.TimelineEntry `json:"timeline"`
	CreatedAt    string                `json:"createdAt"`
	UpdatedAt    string                `json:"updatedAt"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	timeline := b.Timeline
	if timeline == nil {
		timeline = []model.TimelineEntry{}
	}
	return bookingResponse{
		ID:           b.ID,
		Code:         b.Code,
		ProfileID:    b.ProfileID,
		IdentityID:   b.IdentityID,
		CustomerID:   b.CustomerID,
		ServiceID:    b.ServiceID,
		Snapshot:     b.Snapshot,
		StartAt:      b.StartAt.UTC().Format(time.RFC3339),
		EndAt:        b.EndAt.UTC().Format(time.RFC3339),
		Timezone:     b.Timezone,
		Status:       string(b.Status),
		Payment:      b.Payment,
		Policy:       b.Policy,
		Meeting:      b.Meeting,
		Review:       b.Review,
		CustomerNote: b.CustomerNote,
		Timeline:     timeline,
		CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type createBookingRequest struct {
	ProfileID    string `json:"profileId"`
	ServiceID    string `json:"serviceId"`
	StartAt      string `json:"startAt"`
	CustomerNote string `json:"customerNote"`
	PaymentTxnID string `json:"paymentTxnId"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		http.Error(w, "invalid startAt, want RFC3339", http.StatusBadRequest)
		return
	}

	b, err := h.bookings.Create(r.Context(), booking.CreateRequest{
		Actor:        actor,
		ProfileID:    req.ProfileID,
		ServiceID:    req.ServiceID,
		StartAt:      startAt,
		CustomerNote: req.CustomerNote,
		PaymentTxnID: req.PaymentTxnID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	b, err := h.bookings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !mayView(actor, b) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func mayView(actor booking.Actor, b *model.Booking) bool {
	switch actor.Role {
	case model.ActorAdmin, model.ActorSystem:
		return true
	case model.ActorCustomer:
		return actor.ID == b.CustomerID
	case model.ActorExpert:
		return actor.ID == b.IdentityID
	}
	return false
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	f := booking.ListFilter{Status: model.BookingStatus(q.Get("status"))}
	switch actor.Role {
	case model.ActorCustomer:
		f.CustomerID = actor.ID
	case model.ActorExpert:
		f.IdentityID = actor.ID
	default:
		f.CustomerID = q.Get("customerId")
		f.IdentityID = q.Get("identity")
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from, want RFC3339", http.StatusBadRequest)
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to, want RFC3339", http.StatusBadRequest)
			return
		}
		f.To = t
	}

	items, err := h.bookings.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]bookingResponse, 0, len(items))
	for _, b := range items {
		out = append(out, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (h *Handler) BookingStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	identityID := actor.ID
	if actor.Role == model.ActorAdmin {
		identityID = r.URL.Query().Get("identity")
	}
	if actor.Role == model.ActorCustomer || identityID == "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from, want RFC3339", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to, want RFC3339", http.StatusBadRequest)
			return
		}
		to = t
	}

	stats, err := h.bookings.Stats(r.Context(), identityID, from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": out})
}

func (h *Handler) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.Accept(r.Context(), actor, id)
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.Decline(r.Context(), actor, id, req.Reason)
	})
}

type rescheduleRequest struct {
	StartAt string `json:"startAt"`
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		http.Error(w, "invalid startAt, want RFC3339", http.StatusBadRequest)
		return
	}
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.Reschedule(r.Context(), actor, id, startAt)
	})
}

func (h *Handler) StartBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.Start(r.Context(), actor, id)
	})
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.Complete(r.Context(), actor, id)
	})
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		// A customer withdrawing a pending request and a windowed
		// cancellation share the endpoint; the service picks the path.
		b, err := h.bookings.Get(r.Context(), id)
		if err != nil {
			return nil, err
		}
		if actor.Role == model.ActorCustomer && b.Status == model.BookingPending {
			return h.bookings.CustomerCancel(r.Context(), actor, id)
		}
		return h.bookings.Cancel(r.Context(), actor, id, req.Reason)
	})
}

func (h *Handler) NoShowBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.MarkNoShow(r.Context(), actor, id)
	})
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handler) ReviewBooking(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, func(actor booking.Actor, id string) (*model.Booking, error) {
		return h.bookings.Review(r.Context(), actor, id, req.Rating, req.Comment)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(actor booking.Actor, id string) (*model.Booking, error)) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	b, err := fn(actor, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

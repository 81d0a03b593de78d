package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/availability"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

// maxRangeDays bounds slot and calendar queries; the generator's cost
// grows linearly with the range.
const maxRangeDays = 92

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	profileID := r.PathValue("profileID")
	from, to, duration, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	slots, err := h.bookings.Slots(r.Context(), profileID, from, to, duration)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			Start: s.Start.Format(time.RFC3339),
			End:   s.End.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

func (h *Handler) CalendarStatus(w http.ResponseWriter, r *http.Request) {
	profileID := r.PathValue("profileID")
	from, to, duration, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	days, err := h.bookings.CalendarStatus(r.Context(), profileID, from, to, duration)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if days == nil {
		days = []availability.Day{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

// rangeParams parses from/to civil dates and durationMinutes.
func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (timeutil.CivilDate, timeutil.CivilDate, time.Duration, bool) {
	var zero timeutil.CivilDate
	q := r.URL.Query()

	from, err := timeutil.ParseCivilDate(q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
		return zero, zero, 0, false
	}
	to, err := timeutil.ParseCivilDate(q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
		return zero, zero, 0, false
	}
	if !from.Before(to) {
		http.Error(w, "from must be before to", http.StatusBadRequest)
		return zero, zero, 0, false
	}
	days := 0
	for d := from; d.Before(to); d = d.Next() {
		days++
		if days > maxRangeDays {
			http.Error(w, "date range too large", http.StatusBadRequest)
			return zero, zero, 0, false
		}
	}

	minutes, err := strconv.Atoi(q.Get("durationMinutes"))
	if err != nil || minutes <= 0 || minutes > 24*60 {
		http.Error(w, "durationMinutes must be a positive integer", http.StatusBadRequest)
		return zero, zero, 0, false
	}
	return from, to, time.Duration(minutes) * time.Minute, true
}

type availabilityResponse struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	Timezone      string                `json:"timezone"`
	BufferMinutes int                   `json:"bufferMinutes"`
	Rules         []model.WeeklyRule    `json:"rules"`
	Exceptions    []model.DateException `json:"exceptions"`
	UpdatedAt     string                `json:"updatedAt"`
}

func toAvailabilityResponse(av *model.Availability) availabilityResponse {
	rules := av.Rules
	if rules == nil {
		rules = []model.WeeklyRule{}
	}
	exceptions := av.Exceptions
	if exceptions == nil {
		exceptions = []model.DateException{}
	}
	return availabilityResponse{
		ID:            av.ID,
		Status:        string(av.Status),
		Timezone:      av.Timezone,
		BufferMinutes: av.BufferMinutes,
		Rules:         rules,
		Exceptions:    exceptions,
		UpdatedAt:     av.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != model.ActorExpert && actor.Role != model.ActorAdmin {
		http.Error(w, "only experts manage availability", http.StatusForbidden)
		return
	}
	identityID := actor.ID
	if actor.Role == model.ActorAdmin {
		identityID = r.URL.Query().Get("identity")
		if identityID == "" {
			http.Error(w, "identity query parameter required", http.StatusBadRequest)
			return
		}
	}

	av, err := h.avail.GetActive(r.Context(), identityID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if av == nil {
		http.Error(w, "no active availability", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityResponse(av))
}

type putAvailabilityRequest struct {
	Timezone      string                `json:"timezone"`
	BufferMinutes int                   `json:"bufferMinutes"`
	Rules         []model.WeeklyRule    `json:"rules"`
	Exceptions    []model.DateException `json:"exceptions"`
}

func (h *Handler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != model.ActorExpert {
		http.Error(w, "only experts manage availability", http.StatusForbidden)
		return
	}

	var req putAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := availability.ValidateDefinition(req.Timezone, req.BufferMinutes, req.Rules, req.Exceptions); err != nil {
		h.writeDomainError(w, r, booking.Validationf("%v", err))
		return
	}

	av, warning, err := h.avail.Upsert(r.Context(), actor.ID, model.Availability{
		Timezone:      req.Timezone,
		BufferMinutes: req.BufferMinutes,
		Rules:         req.Rules,
		Exceptions:    req.Exceptions,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := map[string]any{"availability": toAvailabilityResponse(av)}
	if warning != "" {
		resp["warning"] = warning
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ApproveProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != model.ActorAdmin {
		http.Error(w, "only admins approve profiles", http.StatusForbidden)
		return
	}

	p, err := h.profileAdmin.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         p.ID,
		"identityId": p.IdentityID,
		"status":     string(p.Status),
	})
}

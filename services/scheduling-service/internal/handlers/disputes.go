package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/disputes"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

type disputeResponse struct {
	ID              string `json:"id"`
	BookingID       string `json:"bookingId"`
	CustomerID      string `json:"customerId"`
	IdentityID      string `json:"identityId"`
	Type            string `json:"type"`
	CustomerMessage string `json:"customerMessage,omitempty"`
	Status          string `json:"status"`
	Resolution      string `json:"resolution"`
	RefundCents     int64  `json:"refundCents"`
	AdminNotes      string `json:"adminNotes,omitempty"`
	DecidedBy       string `json:"decidedBy,omitempty"`
	DecidedAt       string `json:"decidedAt,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

func toDisputeResponse(d *model.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:              d.ID,
		BookingID:       d.BookingID,
		CustomerID:      d.CustomerID,
		IdentityID:      d.IdentityID,
		Type:            string(d.Type),
		CustomerMessage: d.CustomerMessage,
		Status:          string(d.Status),
		Resolution:      string(d.Resolution),
		RefundCents:     d.RefundCents,
		AdminNotes:      d.AdminNotes,
		DecidedBy:       d.DecidedBy,
		CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.DecidedAt != nil {
		resp.DecidedAt = d.DecidedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type openDisputeRequest struct {
	BookingID string `json:"bookingId"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	d, err := h.disputes.Open(r.Context(), actor, req.BookingID, model.DisputeType(req.Type), req.Message)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.disputes.List(r.Context(), actor, model.DisputeStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]disputeResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

type decideDisputeRequest struct {
	Resolution  string `json:"resolution"`
	RefundCents int64  `json:"refundCents"`
	Notes       string `json:"notes"`
}

func (h *Handler) DecideDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req decideDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	d, err := h.disputes.Decide(r.Context(), actor, r.PathValue("id"), disputes.Decision{
		Resolution:  model.DisputeResolution(req.Resolution),
		RefundCents: req.RefundCents,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

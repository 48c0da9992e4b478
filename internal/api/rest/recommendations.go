package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/internal/workflow"
	"github.com/carbonnexus/orchestrator/pkg/types"
)

type decisionResponse struct {
	Status           models.RecommendationStatus `json:"status"`
	RecommendationID string                      `json:"recommendation_id"`
	Message          string                      `json:"message"`
	Recommendation   *models.Recommendation      `json:"recommendation"`
}

// ListRecommendations handles GET /recommendations?status=&limit=
func (h *Handler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	status := models.RecommendationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondValidation(w, r, map[string]string{
			"status": "status must be one of: pending approved rejected implemented",
		})
		return
	}
	limit, ok := intParam(w, r, "limit", 100, 1, 500)
	if !ok {
		return
	}
	h.listRecommendations(w, r, status, limit)
}

// PendingRecommendations handles GET /recommendations/pending
func (h *Handler) PendingRecommendations(w http.ResponseWriter, r *http.Request) {
	h.listRecommendations(w, r, models.RecommendationPending, 100)
}

func (h *Handler) listRecommendations(w http.ResponseWriter, r *http.Request, status models.RecommendationStatus, limit int) {
	recs, err := h.Workflow.List(r.Context(), status, limit)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(recs))
}

// RecommendationStats handles GET /recommendations/stats
func (h *Handler) RecommendationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Workflow.Stats(r.Context())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetRecommendation handles GET /recommendations/{id}
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Workflow.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWorkflowError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ApproveRecommendation handles POST /recommendations/{id}/approve
func (h *Handler) ApproveRecommendation(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Workflow.Approve, "Recommendation approved successfully")
}

// RejectRecommendation handles POST /recommendations/{id}/reject
func (h *Handler) RejectRecommendation(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Workflow.Reject, "Recommendation rejected")
}

type decideFunc func(ctx context.Context, id, notes string) (*models.Recommendation, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc, message string) {
	var req types.DecisionRequest
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if details := validateStruct(&req); details != nil {
		respondValidation(w, r, details)
		return
	}

	rec, err := fn(r.Context(), mux.Vars(r)["id"], req.Notes)
	if err != nil {
		h.respondWorkflowError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, decisionResponse{
		Status:           rec.Status,
		RecommendationID: rec.ID,
		Message:          message,
		Recommendation:   rec,
	})
}

func (h *Handler) respondWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		respondError(w, r, http.StatusNotFound, types.ErrCodeNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		respondError(w, r, http.StatusConflict, types.ErrCodeConflict, err.Error())
	default:
		respondInternal(w, r, err)
	}
}

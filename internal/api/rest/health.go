package rest

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/pkg/types"
)

// Health handles GET /health. It only reports that the process serves.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy"})
}

// Ready handles GET /ready. The database is required; an unreachable
// prediction oracle reports "degraded" with status 200.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out := types.HealthResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	if err := h.Store.Ping(ctx); err != nil {
		h.log.Warn("readiness: database ping failed", zap.Error(err))
		out.Checks["database"] = err.Error()
		out.Status = "not_ready"
		status = http.StatusServiceUnavailable
	} else {
		out.Checks["database"] = "ok"
	}

	if err := h.Predictor.Health(ctx); err != nil {
		out.Checks["prediction"] = err.Error()
		if status == http.StatusOK {
			out.Status = "degraded"
		}
	} else {
		out.Checks["prediction"] = "ok"
	}
	respondJSON(w, status, out)
}

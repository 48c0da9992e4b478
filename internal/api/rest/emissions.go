package rest

import (
	"errors"
	"net/http"

	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/pkg/types"
)

// CurrentEmissions handles GET /emissions/current
func (h *Handler) CurrentEmissions(w http.ResponseWriter, r *http.Request) {
	out, err := h.Emissions.Current(r.Context())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// EmissionsSummary handles GET /emissions/summary
func (h *Handler) EmissionsSummary(w http.ResponseWriter, r *http.Request) {
	out, err := h.Emissions.Summary(r.Context())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// EmissionsForecast handles GET /emissions/forecast
func (h *Handler) EmissionsForecast(w http.ResponseWriter, r *http.Request) {
	out, err := h.Emissions.Forecast(r.Context())
	switch {
	case errors.Is(err, prediction.ErrUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, types.ErrCodeUnavailable, "Forecast is unavailable")
		return
	case err != nil:
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

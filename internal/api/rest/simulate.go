package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/pkg/types"
)

// Simulate handles POST /simulate. It predicts the baseline features and
// the baseline overlaid with changes, and reports the difference.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req types.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if details := validateStruct(&req); details != nil {
		respondValidation(w, r, details)
		return
	}

	res, err := h.simulate(r.Context(), &req)
	if err != nil {
		if errors.Is(err, prediction.ErrUnavailable) {
			respondError(w, r, http.StatusBadGateway, types.ErrCodeUnavailable, err.Error())
			return
		}
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// SimulateBatch handles POST /simulate/batch. Scenarios are evaluated in
// order; a failing scenario reports its error without failing the batch.
func (h *Handler) SimulateBatch(w http.ResponseWriter, r *http.Request) {
	var req types.BatchSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if details := validateStruct(&req); details != nil {
		respondValidation(w, r, details)
		return
	}

	out := types.BatchSimulationResponse{Results: make([]types.BatchSimulationItem, 0, len(req.Scenarios))}
	for i := range req.Scenarios {
		sc := &req.Scenarios[i]
		item := types.BatchSimulationItem{ScenarioType: sc.ScenarioType}
		if details := validateStruct(sc); details != nil {
			item.Error = joinDetails(details)
		} else if res, err := h.simulate(r.Context(), sc); err != nil {
			h.log.Warn("batch scenario failed", zap.Int("index", i), zap.String("scenario_type", sc.ScenarioType), zap.Error(err))
			item.Error = err.Error()
		} else {
			item.Result = res
		}
		out.Results = append(out.Results, item)
	}
	out.Count = len(out.Results)
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) simulate(ctx context.Context, req *types.SimulationRequest) (*types.SimulationResponse, error) {
	kind := models.ParseEventKind(req.ScenarioType)

	modified := make(map[string]any, len(req.BaselineFeatures)+len(req.Changes))
	maps.Copy(modified, req.BaselineFeatures)
	maps.Copy(modified, req.Changes)

	base, err := h.predict(ctx, kind, req.BaselineFeatures)
	if err != nil {
		return nil, fmt.Errorf("baseline prediction: %w", err)
	}
	next, err := h.predict(ctx, kind, modified)
	if err != nil {
		return nil, fmt.Errorf("modified prediction: %w", err)
	}

	delta := next - base
	var pct float64
	if base > 0 {
		pct = delta / base * 100
	}
	return &types.SimulationResponse{
		ScenarioType:   req.ScenarioType,
		BaselineCO2:    round2(base),
		ModifiedCO2:    round2(next),
		Delta:          round2(delta),
		PercentChange:  round2(pct),
		ChangesApplied: req.Changes,
	}, nil
}

func (h *Handler) predict(ctx context.Context, kind models.EventKind, features map[string]any) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, h.predictTimeout)
	defer cancel()
	est, err := h.Predictor.Predict(ctx, kind, features)
	if err != nil {
		return 0, err
	}
	return est.CO2Kg, nil
}

func joinDetails(details map[string]string) string {
	msgs := make([]string, 0, len(details))
	for _, field := range slices.Sorted(maps.Keys(details)) {
		msgs = append(msgs, details[field])
	}
	return strings.Join(msgs, "; ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

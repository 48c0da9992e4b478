package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/pkg/types"
)

// Trend directions reported by Current.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

const (
	currentWindow  = 10
	summaryWindow  = 100
	forecastWindow = 30
	historyDays    = 7
)

// EmissionsStore is what the emissions dashboard reads.
type EmissionsStore interface {
	db.PredictionStore
	db.HotspotStore
}

// Forecaster projects future emissions from history.
type Forecaster interface {
	Forecast(ctx context.Context, history []float64) (*prediction.Forecast, error)
}

// Emissions computes dashboard aggregates over recent predictions.
type Emissions struct {
	store      EmissionsStore
	forecaster Forecaster
	timeout    time.Duration
	log        *zap.Logger
}

// NewEmissions creates the dashboard aggregator.
func NewEmissions(store EmissionsStore, forecaster Forecaster, log *zap.Logger) *Emissions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emissions{
		store:      store,
		forecaster: forecaster,
		timeout:    30 * time.Second,
		log:        log.Named("emissions"),
	}
}

// Current reports the mean of the latest predictions and their direction.
func (e *Emissions) Current(ctx context.Context) (*types.CurrentEmissions, error) {
	preds, err := e.store.QueryPredictions(ctx, db.PredictionQuery{Limit: currentWindow})
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	if len(preds) == 0 {
		return &types.CurrentEmissions{Trend: TrendStable}, nil
	}
	values := chronological(preds)
	return &types.CurrentEmissions{
		CurrentRate: round2(mean(values)),
		Trend:       TrendDirection(values),
		LastUpdated: preds[0].CreatedAt.UTC().Format(time.RFC3339),
		EventCount:  len(preds),
	}, nil
}

// Summary totals recent predictions and counts active hotspots.
func (e *Emissions) Summary(ctx context.Context) (*types.EmissionsSummary, error) {
	preds, err := e.store.QueryPredictions(ctx, db.PredictionQuery{Limit: summaryWindow})
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	active, err := e.store.QueryHotspots(ctx, db.HotspotQuery{Status: models.HotspotActive})
	if err != nil {
		return nil, fmt.Errorf("query hotspots: %w", err)
	}

	out := &types.EmissionsSummary{EventCount: len(preds), ActiveHotspots: len(active)}
	var total float64
	for _, p := range preds {
		total += p.CO2Kg
	}
	out.TotalEmissions = round2(total)
	if len(preds) > 0 {
		out.AverageEmissions = round2(total / float64(len(preds)))
	}
	for _, h := range active {
		if h.Severity == models.SeverityCritical {
			out.CriticalHotspots++
		}
	}
	return out, nil
}

// Forecast asks the prediction oracle for a seven-day projection from the
// latest predictions. Oracle errors are returned wrapped, so callers can
// match prediction.ErrUnavailable.
func (e *Emissions) Forecast(ctx context.Context) (*types.ForecastResponse, error) {
	preds, err := e.store.QueryPredictions(ctx, db.PredictionQuery{Limit: forecastWindow})
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	if len(preds) == 0 {
		return &types.ForecastResponse{
			Forecast:       []float64{},
			ConfidenceLow:  []float64{},
			ConfidenceHigh: []float64{},
		}, nil
	}

	recent := preds
	if len(recent) > historyDays {
		recent = recent[:historyDays]
	}
	history := chronological(recent)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	f, err := e.forecaster.Forecast(ctx, history)
	if err != nil {
		e.log.Warn("forecast unavailable", zap.Int("history", len(history)), zap.Error(err))
		return nil, fmt.Errorf("forecast: %w", err)
	}
	return &types.ForecastResponse{
		Forecast:       f.Forecast,
		ConfidenceLow:  f.ConfidenceLow,
		ConfidenceHigh: f.ConfidenceHigh,
		HistoryDays:    len(history),
	}, nil
}

// TrendDirection fits a least-squares line through values and classifies
// its slope relative to the mean. Slopes under 1% of the mean per point
// are stable.
func TrendDirection(values []float64) string {
	if len(values) < 2 {
		return TrendStable
	}
	n := float64(len(values))
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	slope := (n*sumXY - sumX*sumY) / (n*sumX2 - sumX*sumX)
	avg := sumY / n
	if avg == 0 || math.Abs(slope/avg) < 0.01 {
		return TrendStable
	}
	if slope > 0 {
		return TrendIncreasing
	}
	return TrendDecreasing
}

// chronological returns the CO2 values of newest-first predictions in
// oldest-first order.
func chronological(preds []*models.Prediction) []float64 {
	out := make([]float64, len(preds))
	for i, p := range preds {
		out[len(preds)-1-i] = p.CO2Kg
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

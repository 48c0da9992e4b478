package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/internal/models"
)

type fakeForecaster struct {
	history []float64
	err     error
}

func (f *fakeForecaster) Forecast(_ context.Context, history []float64) (*prediction.Forecast, error) {
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	return &prediction.Forecast{
		Forecast:       []float64{1, 2, 3, 4, 5, 6, 7},
		ConfidenceLow:  []float64{0, 1, 2, 3, 4, 5, 6},
		ConfidenceHigh: []float64{2, 3, 4, 5, 6, 7, 8},
	}, nil
}

// savePredictions stores values oldest first, one minute apart.
func savePredictions(t *testing.T, s db.Store, values ...float64) {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		require.NoError(t, s.SavePrediction(context.Background(), &models.Prediction{
			EventID:    fmt.Sprintf("evt-%d", i),
			Entity:     "Acme",
			EntityType: models.EntityTypeSupplier,
			Kind:       models.EventKindFactory,
			CO2Kg:      v,
			CreatedAt:  start.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestCurrentEmissionsEmpty(t *testing.T) {
	e := NewEmissions(newStore(t), &fakeForecaster{}, nil)
	got, err := e.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.CurrentRate)
	assert.Equal(t, TrendStable, got.Trend)
	assert.Empty(t, got.LastUpdated)
}

func TestCurrentEmissions(t *testing.T) {
	s := newStore(t)
	savePredictions(t, s, 10, 20, 30, 40.333)
	e := NewEmissions(s, &fakeForecaster{}, nil)

	got, err := e.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25.08, got.CurrentRate)
	assert.Equal(t, TrendIncreasing, got.Trend)
	assert.Equal(t, 4, got.EventCount)
	assert.Equal(t, "2026-03-01T00:03:00Z", got.LastUpdated)
}

func TestEmissionsSummary(t *testing.T) {
	s := newStore(t)
	savePredictions(t, s, 10.25, 20)
	ctx := context.Background()
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityWarn} {
		require.NoError(t, s.InsertHotspot(ctx, &models.Hotspot{
			Entity: "Acme", EntityType: models.EntityTypeSupplier, PredictedCO2: 90, BaselineCO2: 60,
			PercentAbove: 50, Severity: sev, Status: models.HotspotActive, EventID: "evt-0",
		}))
	}

	got, err := NewEmissions(s, &fakeForecaster{}, nil).Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EventCount)
	assert.InDelta(t, 30.25, got.TotalEmissions, 0.001)
	assert.InDelta(t, 15.13, got.AverageEmissions, 0.001)
	assert.Equal(t, 2, got.ActiveHotspots)
	assert.Equal(t, 1, got.CriticalHotspots)
}

func TestForecastUsesLatestWeekOldestFirst(t *testing.T) {
	s := newStore(t)
	savePredictions(t, s, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	f := &fakeForecaster{}

	got, err := NewEmissions(s, f, nil).Forecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, 6, 7, 8, 9}, f.history)
	assert.Len(t, got.Forecast, 7)
	assert.Equal(t, 7, got.HistoryDays)
}

func TestForecastEmptyHistorySkipsOracle(t *testing.T) {
	f := &fakeForecaster{err: errors.New("must not be called")}
	got, err := NewEmissions(newStore(t), f, nil).Forecast(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Forecast)
	assert.NotNil(t, got.Forecast)
	assert.Nil(t, f.history)
}

func TestForecastOracleUnavailable(t *testing.T) {
	s := newStore(t)
	savePredictions(t, s, 5, 6)
	f := &fakeForecaster{err: fmt.Errorf("%w: connection refused", prediction.ErrUnavailable)}

	_, err := NewEmissions(s, f, nil).Forecast(context.Background())
	assert.True(t, errors.Is(err, prediction.ErrUnavailable))
}

func TestTrendDirection(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   string
	}{
		{"single point", []float64{5}, TrendStable},
		{"flat", []float64{5, 5, 5, 5}, TrendStable},
		{"rising", []float64{1, 2, 3, 4}, TrendIncreasing},
		{"falling", []float64{40, 30, 20, 10}, TrendDecreasing},
		{"noise", []float64{100, 100.1, 99.9, 100}, TrendStable},
		{"zero mean", []float64{0, 0}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrendDirection(tt.values))
		})
	}
}

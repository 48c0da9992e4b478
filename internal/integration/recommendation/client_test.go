package recommendation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonnexus/orchestrator/internal/integration/oracle"
)

func TestRecommend(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/recommendations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"root_cause": "furnace running outside shift",
			"actions": [
				{"title": "Shift schedule", "description": "Align furnace with shifts", "co2_reduction": 12.5, "cost_impact": "low", "feasibility": 0.9, "confidence": 0.7}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(oracle.Config{BaseURL: srv.URL}, nil)
	res, err := c.Recommend(context.Background(), Request{
		Supplier:      "Acme",
		Predicted:     90,
		Baseline:      60,
		HotspotReason: Reason(50),
		HotspotID:     "h1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Supplier)
	assert.Equal(t, "Emissions 50.0% above baseline", got.HotspotReason)
	assert.Equal(t, "furnace running outside shift", res.RootCause)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, 12.5, res.Actions[0].CO2Reduction)
}

func TestRecommendEmptyActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"root_cause": "unknown"}`))
	}))
	defer srv.Close()

	res, err := NewClient(oracle.Config{BaseURL: srv.URL}, nil).Recommend(context.Background(), Request{})
	require.NoError(t, err)
	assert.NotNil(t, res.Actions)
	assert.Empty(t, res.Actions)
}

func TestRecommendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(oracle.Config{BaseURL: srv.URL}, nil).Recommend(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Emissions 33.3% above baseline", Reason(33.3333))
	assert.Equal(t, "Emissions -5.0% above baseline", Reason(-5))
}

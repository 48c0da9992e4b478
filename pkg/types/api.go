// Package types defines the public REST contracts of the orchestrator.
package types

// ─── Errors ───────────────────────────────────────────────────────────────────

// APIError is the body of every non-2xx response.
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeUnavailable       = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
)

// ─── Requests ─────────────────────────────────────────────────────────────────

// DecisionRequest is the optional body of approve/reject calls.
type DecisionRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// SimulationRequest asks for a what-if comparison of two feature records.
type SimulationRequest struct {
	ScenarioType     string         `json:"scenario_type" validate:"required,oneof=logistics factory warehouse delivery"`
	BaselineFeatures map[string]any `json:"baseline_features" validate:"required"`
	Changes          map[string]any `json:"changes" validate:"required"`
}

// BatchSimulationRequest runs several simulations in one call. Scenarios
// are validated one by one so a bad scenario fails alone.
type BatchSimulationRequest struct {
	Scenarios []SimulationRequest `json:"scenarios" validate:"required,min=1,max=20"`
}

// ─── Responses ────────────────────────────────────────────────────────────────

// SimulationResponse compares baseline and modified predictions.
type SimulationResponse struct {
	ScenarioType   string         `json:"scenario_type"`
	BaselineCO2    float64        `json:"baseline_co2"`
	ModifiedCO2    float64        `json:"modified_co2"`
	Delta          float64        `json:"delta"`
	PercentChange  float64        `json:"percent_change"`
	ChangesApplied map[string]any `json:"changes_applied"`
}

// BatchSimulationItem is one result of a batch simulation; exactly one of
// Result or Error is set.
type BatchSimulationItem struct {
	ScenarioType string              `json:"scenario_type"`
	Result       *SimulationResponse `json:"result,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// BatchSimulationResponse wraps batch results in request order.
type BatchSimulationResponse struct {
	Results []BatchSimulationItem `json:"results"`
	Count   int                   `json:"count"`
}

// CurrentEmissions summarizes the most recent predictions.
type CurrentEmissions struct {
	CurrentRate float64 `json:"current_rate"`
	Trend       string  `json:"trend"`
	LastUpdated string  `json:"last_updated,omitempty"`
	EventCount  int     `json:"event_count"`
}

// EmissionsSummary aggregates recent predictions and hotspots.
type EmissionsSummary struct {
	TotalEmissions   float64 `json:"total_emissions"`
	AverageEmissions float64 `json:"average_emissions"`
	EventCount       int     `json:"event_count"`
	ActiveHotspots   int     `json:"active_hotspots"`
	CriticalHotspots int     `json:"critical_hotspots"`
}

// ForecastResponse is a seven-day emission forecast.
type ForecastResponse struct {
	Forecast       []float64 `json:"forecast"`
	ConfidenceLow  []float64 `json:"confidence_low"`
	ConfidenceHigh []float64 `json:"confidence_high"`
	HistoryDays    int       `json:"history_days"`
}

// HealthResponse is returned by /health and /ready.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

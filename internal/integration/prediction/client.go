package prediction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/integration/oracle"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Package prediction is the gateway to the emission prediction oracle.
//
// Endpoints:
//   - POST /api/v1/predict/{kind}: one estimate per event
//   - POST /api/v1/forecast/7d: seven-day forecast from recent history
//   - GET  /api/v1/health

// ErrUnsupportedKind is returned for event kinds with no prediction model.
// No request is sent.
var ErrUnsupportedKind = errors.New("unsupported event kind")

// ErrUnavailable is returned when the oracle cannot be reached, times out,
// answers with an error status or returns a malformed body.
var ErrUnavailable = oracle.ErrUnavailable

// IsRejected reports whether the oracle refused the feature record itself,
// so sending it again cannot succeed.
func IsRejected(err error) bool { return oracle.IsRejected(err) }

// Estimate is the oracle's answer for one event.
type Estimate struct {
	CO2Kg        float64 `json:"co2_kg"`
	ModelVersion string  `json:"model_version"`
	Confidence   float64 `json:"confidence"`
}

// Forecast is a daily emission forecast with its confidence band.
type Forecast struct {
	Forecast       []float64 `json:"forecast"`
	ConfidenceLow  []float64 `json:"confidence_low"`
	ConfidenceHigh []float64 `json:"confidence_high"`
}

// Gateway is the prediction oracle contract.
type Gateway interface {
	// Predict returns the estimate for a feature record of the given kind.
	Predict(ctx context.Context, kind models.EventKind, features map[string]any) (*Estimate, error)

	// Forecast projects the next seven days from daily history.
	Forecast(ctx context.Context, history []float64) (*Forecast, error)

	// Health reports whether the oracle is reachable.
	Health(ctx context.Context) error
}

// Client implements Gateway over HTTP.
type Client struct {
	c *oracle.Client
}

// NewClient creates a prediction gateway.
func NewClient(cfg oracle.Config, log *zap.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "prediction"
	}
	return &Client{c: oracle.NewClient(cfg, log)}
}

func (p *Client) Predict(ctx context.Context, kind models.EventKind, features map[string]any) (*Estimate, error) {
	if !kind.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	var est Estimate
	if err := p.c.PostJSON(ctx, "/api/v1/predict/"+string(kind), features, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

func (p *Client) Forecast(ctx context.Context, history []float64) (*Forecast, error) {
	if history == nil {
		history = []float64{}
	}
	var f Forecast
	if err := p.c.PostJSON(ctx, "/api/v1/forecast/7d", map[string]any{"history": history}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *Client) Health(ctx context.Context) error {
	return p.c.GetJSON(ctx, "/api/v1/health", nil)
}

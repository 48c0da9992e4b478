package recommendation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/integration/oracle"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Package recommendation is the gateway to the mitigation recommendation
// oracle (POST /api/recommendations).

// ErrUnavailable is returned when the oracle cannot produce an answer.
var ErrUnavailable = oracle.ErrUnavailable

// Request describes the hotspot a recommendation is asked for.
type Request struct {
	Supplier      string  `json:"supplier"`
	Predicted     float64 `json:"predicted"`
	Baseline      float64 `json:"baseline"`
	HotspotReason string  `json:"hotspot_reason"`
	HotspotID     string  `json:"hotspot_id"`
}

// Result is the oracle's answer.
type Result struct {
	RootCause string          `json:"root_cause"`
	Actions   []models.Action `json:"actions"`
}

// Reason formats the hotspot reason sent to the oracle.
func Reason(percentAbove float64) string {
	return fmt.Sprintf("Emissions %.1f%% above baseline", percentAbove)
}

// Gateway is the recommendation oracle contract.
type Gateway interface {
	Recommend(ctx context.Context, req Request) (*Result, error)
}

// Client implements Gateway over HTTP.
type Client struct {
	c *oracle.Client
}

// NewClient creates a recommendation gateway.
func NewClient(cfg oracle.Config, log *zap.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "recommendation"
	}
	return &Client{c: oracle.NewClient(cfg, log)}
}

func (r *Client) Recommend(ctx context.Context, req Request) (*Result, error) {
	var res Result
	if err := r.c.PostJSON(ctx, "/api/recommendations", req, &res); err != nil {
		return nil, err
	}
	if res.Actions == nil {
		res.Actions = []models.Action{}
	}
	return &res, nil
}

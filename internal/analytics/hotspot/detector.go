package hotspot

import (
	"context"

	"github.com/carbonnexus/orchestrator/internal/analytics/severity"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Package hotspot evaluates one normalized event against its entity's
// baseline and records a hotspot when the prediction runs high.
//
// Per-event pipeline:
//
//   1. Predict: send the event's feature record to the prediction oracle,
//      routed by the event's kind. Failure ends evaluation; nothing is
//      written and the baseline store is not consulted. Kinds with no
//      model and records the oracle rejects end evaluation too, reported
//      as a skip instead of an error.
//   2. Baseline: resolve the entity's baseline, falling back to recent
//      history (see analytics/baseline).
//   3. Classify: map predicted/baseline to a severity tier. Below the info
//      threshold the event is normal and no hotspot is created.
//   4. Persist the hotspot.
//   5. Persist the alert ("<entity> exceeded emissions by <p>%").
//   6. Broadcast the hotspot and the alert; forward the alert to the
//      alert bus.
//   7. Ask the recommendation oracle for mitigations; persist and broadcast
//      the answer.
//
// Steps 5-7 are best-effort: their failures are logged and never undo
// the hotspot. Persisting the prediction itself is left to the caller,
// which uses it as the event's "evaluated" marker.

// Result is the outcome of evaluating one event.
type Result struct {
	// Prediction is the oracle's estimate, ready to be persisted.
	Prediction *models.Prediction
	// Severity is the classified tier, SeverityNormal when no hotspot.
	Severity models.Severity
	// Hotspot is nil when the event is within its baseline.
	Hotspot *models.Hotspot
	// Alert and Recommendation are set when those steps succeeded.
	Alert          *models.Alert
	Recommendation *models.Recommendation
	// SkipReason is set when the event can never be predicted: its kind
	// has no model or the oracle rejected its features. Everything else is
	// empty.
	SkipReason string
}

// Detector evaluates single events.
type Detector interface {
	// Detect runs the per-event pipeline. It returns an error when the
	// event could not be evaluated (prediction, baseline or hotspot
	// persistence failed); the caller should leave the event unevaluated
	// so a later scan retries it.
	Detect(ctx context.Context, event *models.NormalizedEvent) (*Result, error)

	// SetThresholds replaces the severity thresholds used by later calls.
	SetThresholds(t severity.Thresholds) error

	// Thresholds returns the current severity thresholds.
	Thresholds() severity.Thresholds
}

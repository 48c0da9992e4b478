// Package severity maps a predicted emission and its baseline to a tier.
package severity

import (
	"fmt"

	"github.com/carbonnexus/orchestrator/internal/models"
)

// Thresholds are the predicted/baseline ratios at which each tier starts.
type Thresholds struct {
	Info     float64
	Warn     float64
	Critical float64
}

// DefaultThresholds returns the stock 1.1 / 1.3 / 1.5 tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{Info: 1.1, Warn: 1.3, Critical: 1.5}
}

// Validate checks that the tiers are positive and strictly increasing.
func (t Thresholds) Validate() error {
	if t.Info <= 0 || !(t.Info < t.Warn && t.Warn < t.Critical) {
		return fmt.Errorf("severity thresholds must satisfy 0 < info < warn < critical, got %v/%v/%v",
			t.Info, t.Warn, t.Critical)
	}
	return nil
}

// Classify returns the severity tier and the percent above baseline.
//
// A non-positive baseline is treated as critical with percent_above 100.
// Otherwise percent_above is (predicted-baseline)/baseline*100 and may be
// negative; ratios below t.Info are SeverityNormal.
func Classify(predicted, baseline float64, t Thresholds) (models.Severity, float64) {
	if baseline <= 0 {
		return models.SeverityCritical, 100
	}

	ratio := predicted / baseline
	percentAbove := (predicted - baseline) / baseline * 100

	switch {
	case ratio >= t.Critical:
		return models.SeverityCritical, percentAbove
	case ratio >= t.Warn:
		return models.SeverityWarn, percentAbove
	case ratio >= t.Info:
		return models.SeverityInfo, percentAbove
	default:
		return models.SeverityNormal, percentAbove
	}
}

package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/analytics"
	"github.com/carbonnexus/orchestrator/internal/audit"
)

// manualScanner runs operator-triggered scans. They run independently of
// the scheduler and may overlap a scheduled scan; set
// analytics.claim_events to keep overlapping scans off the same events.
type manualScanner struct {
	pipeline *analytics.Pipeline
	audit    audit.Logger
	log      *zap.Logger
}

func (m *manualScanner) TriggerScan(ctx context.Context) (*analytics.ScanReport, error) {
	report, err := m.pipeline.Scan(ctx, analytics.TriggerManual)
	if err != nil {
		return nil, err
	}

	// A scan that found nothing to evaluate leaves no trace.
	if report.EventsRead == 0 {
		return report, nil
	}
	entry := audit.NewEntry(audit.ActionTriggerScan).
		WithEntity(audit.EntityScan, report.ScanID).
		WithMetadata("events_read", report.EventsRead).
		WithMetadata("hotspots", len(report.Hotspots)).
		WithMetadata("skipped", report.Skipped).
		WithMetadata("failed", report.Failed)
	if err := m.audit.Record(ctx, entry); err != nil {
		m.log.Warn("failed to audit manual scan", zap.String("scan_id", report.ScanID), zap.Error(err))
	}
	return report, nil
}

func (m *manualScanner) LastReport() *analytics.ScanReport {
	return m.pipeline.LastReport()
}

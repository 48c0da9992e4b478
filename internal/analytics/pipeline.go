package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/analytics/hotspot"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Trigger names what started a scan.
type Trigger string

const (
	TriggerScheduler Trigger = "scheduler"
	TriggerManual    Trigger = "manual"
)

// ScanReport summarizes one scan.
type ScanReport struct {
	ScanID     string            `json:"scan_id"`
	Trigger    Trigger           `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	EventsRead int               `json:"events_read"`
	Hotspots   []*models.Hotspot `json:"hotspots"`
	// Normal counts events evaluated within their baseline.
	Normal int `json:"normal"`
	// Skipped counts events claimed by another scan or that no model can
	// predict. The latter are marked so later scans pass over them.
	Skipped int `json:"skipped"`
	// Failed counts events that could not be evaluated.
	Failed int `json:"failed"`
}

// Store is what the pipeline reads events from and records predictions to.
type Store interface {
	db.EventStore
	db.PredictionStore
}

// PipelineOptions tunes scans.
type PipelineOptions struct {
	// BatchSize caps the events read per scan.
	BatchSize int
	// ClaimEvents makes each scan claim events before evaluating them, so
	// overlapping scans do not evaluate the same event twice.
	ClaimEvents  bool
	StoreTimeout time.Duration
}

// Pipeline is the scan coordinator: it pulls unevaluated events and runs
// each through the hotspot detector, in order, one at a time.
type Pipeline struct {
	store    Store
	detector hotspot.Detector
	opts     PipelineOptions
	log      *zap.Logger

	mu   sync.RWMutex
	last *ScanReport
}

// NewPipeline creates a scan coordinator.
func NewPipeline(store Store, detector hotspot.Detector, opts PipelineOptions, log *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		detector: detector,
		opts:     opts,
		log:      log.Named("pipeline"),
	}
}

// Scan evaluates up to one batch of unevaluated events. Per-event failures
// are counted in the report and never abort the batch; only a failure to
// read the batch is returned as an error.
func (p *Pipeline) Scan(ctx context.Context, trigger Trigger) (*ScanReport, error) {
	report := &ScanReport{
		ScanID:    uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Hotspots:  []*models.Hotspot{},
	}
	log := p.log.With(zap.String("scan_id", report.ScanID), zap.String("trigger", string(trigger)))

	rctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	batch, err := p.store.ListUnevaluatedEvents(rctx, p.opts.BatchSize)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list unevaluated events: %w", err)
	}
	report.EventsRead = len(batch)

	for _, event := range batch {
		if ctx.Err() != nil {
			log.Warn("scan interrupted", zap.Error(ctx.Err()))
			break
		}
		p.evaluate(ctx, log, report, event)
	}

	report.FinishedAt = time.Now().UTC()
	metrics.ScanDuration.WithLabelValues(string(trigger)).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	metrics.ScanEvents.WithLabelValues("hotspot").Add(float64(len(report.Hotspots)))
	metrics.ScanEvents.WithLabelValues("none").Add(float64(report.Normal))
	metrics.ScanEvents.WithLabelValues("skipped").Add(float64(report.Skipped))
	metrics.ScanEvents.WithLabelValues("failed").Add(float64(report.Failed))

	log.Info("scan complete",
		zap.Int("events", report.EventsRead),
		zap.Int("hotspots", len(report.Hotspots)),
		zap.Int("normal", report.Normal),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	p.mu.Lock()
	p.last = report
	p.mu.Unlock()
	return report, nil
}

func (p *Pipeline) evaluate(ctx context.Context, log *zap.Logger, report *ScanReport, event *models.NormalizedEvent) {
	if p.opts.ClaimEvents {
		cctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		claimed, err := p.store.ClaimEvent(cctx, event.ID, report.ScanID)
		cancel()
		if err != nil {
			report.Failed++
			log.Warn("failed to claim event", zap.String("event_id", event.ID), zap.Error(err))
			return
		}
		if !claimed {
			report.Skipped++
			return
		}
	}

	res, err := p.detector.Detect(ctx, event)
	if err != nil {
		// Already logged by the detector; the event stays unevaluated.
		report.Failed++
		if p.opts.ClaimEvents {
			p.release(ctx, log, event.ID, report.ScanID)
		}
		return
	}

	if res.SkipReason != "" {
		report.Skipped++
		sctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		err := p.store.MarkEventSkipped(sctx, event.ID, res.SkipReason)
		cancel()
		if err != nil {
			log.Warn("failed to mark event skipped", zap.String("event_id", event.ID), zap.Error(err))
		}
		return
	}

	if res.Prediction != nil {
		sctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		err := p.store.SavePrediction(sctx, res.Prediction)
		cancel()
		if err != nil {
			metrics.DetectionStepFailures.WithLabelValues("record_prediction").Inc()
			log.Warn("failed to record prediction", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	if res.Hotspot != nil {
		report.Hotspots = append(report.Hotspots, res.Hotspot)
	} else {
		report.Normal++
	}
}

func (p *Pipeline) release(ctx context.Context, log *zap.Logger, eventID, scanID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.StoreTimeout)
	defer cancel()
	if err := p.store.ReleaseClaim(rctx, eventID, scanID); err != nil {
		log.Warn("failed to release event claim", zap.String("event_id", eventID), zap.Error(err))
	}
}

// LastReport returns the most recent scan report, or nil before the first
// scan.
func (p *Pipeline) LastReport() *ScanReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

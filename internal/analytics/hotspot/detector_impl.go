package hotspot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/analytics/baseline"
	"github.com/carbonnexus/orchestrator/internal/analytics/severity"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/integration/events"
	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/internal/integration/recommendation"
	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/internal/realtime"
)

// Store is the persistence the detector writes to.
type Store interface {
	db.HotspotStore
	db.AlertStore
	db.RecommendationStore
}

// Deps are the collaborators of a detector. Recommender, Publisher and
// Alerts are optional.
type Deps struct {
	Predictor   prediction.Gateway
	Baselines   baseline.Store
	Store       Store
	Recommender recommendation.Gateway
	Publisher   realtime.Publisher
	Alerts      events.AlertSink
	Logger      *zap.Logger
}

// Options tunes per-call timeouts.
type Options struct {
	Thresholds       severity.Thresholds
	PredictTimeout   time.Duration
	StoreTimeout     time.Duration
	RecommendTimeout time.Duration
}

// DefaultOptions returns stock thresholds and 30s/30s/60s timeouts.
func DefaultOptions() Options {
	return Options{
		Thresholds:       severity.DefaultThresholds(),
		PredictTimeout:   30 * time.Second,
		StoreTimeout:     30 * time.Second,
		RecommendTimeout: 60 * time.Second,
	}
}

type detectorImpl struct {
	deps Deps
	opts Options
	log  *zap.Logger

	mu         sync.RWMutex
	thresholds severity.Thresholds
}

// NewDetector creates a Detector.
func NewDetector(deps Deps, opts Options) (Detector, error) {
	if deps.Predictor == nil || deps.Baselines == nil || deps.Store == nil {
		return nil, fmt.Errorf("hotspot detector requires a predictor, a baseline store and a store")
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = def.PredictTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.RecommendTimeout <= 0 {
		opts.RecommendTimeout = def.RecommendTimeout
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &detectorImpl{
		deps:       deps,
		opts:       opts,
		log:        log.Named("hotspot"),
		thresholds: opts.Thresholds,
	}, nil
}

func (d *detectorImpl) SetThresholds(t severity.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.thresholds = t
	d.mu.Unlock()
	return nil
}

func (d *detectorImpl) Thresholds() severity.Thresholds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.thresholds
}

func (d *detectorImpl) Detect(ctx context.Context, event *models.NormalizedEvent) (*Result, error) {
	entity, entityType := event.Entity()
	log := d.log.With(
		zap.String("event_id", event.ID),
		zap.String("entity", entity),
		zap.String("kind", string(event.Kind)),
	)

	// 1. predict
	pctx, cancel := context.WithTimeout(ctx, d.opts.PredictTimeout)
	est, err := d.deps.Predictor.Predict(pctx, event.Kind, event.Features())
	cancel()
	if errors.Is(err, prediction.ErrUnsupportedKind) || prediction.IsRejected(err) {
		log.Debug("event cannot be predicted, skipping", zap.Error(err))
		return &Result{Severity: models.SeverityNormal, SkipReason: err.Error()}, nil
	}
	if err != nil {
		d.stepFailed(log, "predict", err)
		return nil, fmt.Errorf("predict event %s: %w", event.ID, err)
	}

	res := &Result{
		Prediction: &models.Prediction{
			EventID:      event.ID,
			Entity:       entity,
			EntityType:   entityType,
			Kind:         event.Kind,
			CO2Kg:        est.CO2Kg,
			Confidence:   est.Confidence,
			ModelVersion: est.ModelVersion,
		},
		Severity: models.SeverityNormal,
	}

	// 2. baseline
	bctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	base, err := d.deps.Baselines.Resolve(bctx, entity, entityType)
	cancel()
	if err != nil {
		d.stepFailed(log, "baseline", err)
		return nil, fmt.Errorf("resolve baseline for %s: %w", entity, err)
	}

	// 3. classify
	sev, pct := severity.Classify(est.CO2Kg, base, d.Thresholds())
	res.Severity = sev
	if sev == models.SeverityNormal {
		log.Debug("event within baseline",
			zap.Float64("predicted_co2", est.CO2Kg),
			zap.Float64("baseline_co2", base),
		)
		return res, nil
	}

	// 4. hotspot
	h := &models.Hotspot{
		Entity:       entity,
		EntityType:   entityType,
		PredictedCO2: est.CO2Kg,
		BaselineCO2:  base,
		PercentAbove: pct,
		Severity:     sev,
		Status:       models.HotspotActive,
		EventID:      event.ID,
		CreatedAt:    time.Now().UTC(),
	}
	sctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	err = d.deps.Store.InsertHotspot(sctx, h)
	cancel()
	if err != nil {
		d.stepFailed(log, "persist_hotspot", err)
		return nil, fmt.Errorf("persist hotspot for %s: %w", entity, err)
	}
	res.Hotspot = h
	metrics.HotspotsDetected.WithLabelValues(string(sev), entityType).Inc()
	log.Info("hotspot detected",
		zap.String("hotspot_id", h.ID),
		zap.String("severity", string(sev)),
		zap.Float64("percent_above", pct),
	)

	// 5-6. alert and broadcasts
	res.Alert = d.emitAlert(ctx, log, h)
	d.publish(models.TopicHotspots, h)
	if res.Alert != nil {
		d.publish(models.TopicAlerts, res.Alert)
		if d.deps.Alerts != nil {
			d.deps.Alerts.PublishAlert(res.Alert)
		}
	}

	// 7. recommendation
	res.Recommendation = d.recommend(ctx, log, h)
	if res.Recommendation != nil {
		d.publish(models.TopicRecommendations, res.Recommendation)
	}

	return res, nil
}

// AlertMessage formats the alert text for a hotspot.
func AlertMessage(entity string, percentAbove float64) string {
	return fmt.Sprintf("%s exceeded emissions by %.1f%%", entity, percentAbove)
}

func (d *detectorImpl) emitAlert(ctx context.Context, log *zap.Logger, h *models.Hotspot) *models.Alert {
	a := &models.Alert{
		Level:     h.Severity,
		Message:   AlertMessage(h.Entity, h.PercentAbove),
		HotspotID: h.ID,
		CreatedAt: time.Now().UTC(),
	}
	actx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()
	if err := d.deps.Store.InsertAlert(actx, a); err != nil {
		d.stepFailed(log, "persist_alert", err)
		return nil
	}
	return a
}

func (d *detectorImpl) recommend(ctx context.Context, log *zap.Logger, h *models.Hotspot) *models.Recommendation {
	if d.deps.Recommender == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, d.opts.RecommendTimeout)
	out, err := d.deps.Recommender.Recommend(rctx, recommendation.Request{
		Supplier:      h.Entity,
		Predicted:     h.PredictedCO2,
		Baseline:      h.BaselineCO2,
		HotspotReason: recommendation.Reason(h.PercentAbove),
		HotspotID:     h.ID,
	})
	cancel()
	if err != nil {
		d.stepFailed(log, "recommend", err)
		return nil
	}

	rec := &models.Recommendation{
		HotspotID: h.ID,
		Entity:    h.Entity,
		RootCause: out.RootCause,
		Actions:   out.Actions,
		Status:    models.RecommendationPending,
		CreatedAt: time.Now().UTC(),
	}
	rec.CO2Reduction = rec.TotalReduction()

	sctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()
	if err := d.deps.Store.InsertRecommendation(sctx, rec); err != nil {
		d.stepFailed(log, "persist_recommendation", err)
		return nil
	}
	log.Info("recommendation generated",
		zap.String("recommendation_id", rec.ID),
		zap.Int("actions", len(rec.Actions)),
	)
	return rec
}

func (d *detectorImpl) publish(topic models.Topic, payload any) {
	if d.deps.Publisher != nil {
		d.deps.Publisher.Publish(topic, payload)
	}
}

func (d *detectorImpl) stepFailed(log *zap.Logger, step string, err error) {
	metrics.DetectionStepFailures.WithLabelValues(step).Inc()
	log.Warn("detection step failed", zap.String("step", step), zap.Error(err))
}

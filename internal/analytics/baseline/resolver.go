// Package baseline resolves the expected emission value for an entity.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/cache"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Store is the get/upsert contract the detector depends on.
type Store interface {
	// Get returns the stored baseline and whether one exists.
	Get(ctx context.Context, entity, entityType string) (float64, bool, error)

	// Upsert writes a baseline; the last writer wins.
	Upsert(ctx context.Context, entity, entityType string, value float64) error

	// Resolve returns the stored baseline, or computes, persists and
	// returns a fallback when none exists.
	Resolve(ctx context.Context, entity, entityType string) (float64, error)
}

// Options tunes fallback computation and caching.
type Options struct {
	// Window is how many recent predictions are averaged.
	Window int
	// Default is used when an entity has no prediction history.
	Default float64
	// CacheTTL is how long cached baselines live; 0 disables the cache.
	CacheTTL time.Duration
}

// Resolver implements Store over the relational store with an optional
// read-through cache.
type Resolver struct {
	baselines   db.BaselineStore
	predictions db.PredictionStore
	cache       cache.Cache
	opts        Options
	log         *zap.Logger
}

// NewResolver creates a Resolver. c may be nil.
func NewResolver(baselines db.BaselineStore, predictions db.PredictionStore, c cache.Cache, opts Options, log *zap.Logger) *Resolver {
	if opts.Window <= 0 {
		opts.Window = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		c = nil
	}
	return &Resolver{
		baselines:   baselines,
		predictions: predictions,
		cache:       c,
		opts:        opts,
		log:         log.Named("baseline"),
	}
}

func cacheKey(entity, entityType string) string {
	return "baseline:" + entityType + ":" + entity
}

// Get returns the stored baseline for the entity.
func (r *Resolver) Get(ctx context.Context, entity, entityType string) (float64, bool, error) {
	key := cacheKey(entity, entityType)
	if r.cache != nil {
		raw, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.log.Warn("baseline cache read failed", zap.String("entity", entity), zap.Error(err))
		} else if ok {
			if v, perr := strconv.ParseFloat(string(raw), 64); perr == nil {
				return v, true, nil
			}
		}
	}

	b, err := r.baselines.GetBaseline(ctx, entity, entityType)
	if errors.Is(err, db.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get baseline %s/%s: %w", entityType, entity, err)
	}

	r.cachePut(ctx, key, b.BaselineValue)
	return b.BaselineValue, true, nil
}

// Upsert writes the baseline and refreshes the cache entry.
func (r *Resolver) Upsert(ctx context.Context, entity, entityType string, value float64) error {
	err := r.baselines.UpsertBaseline(ctx, &models.Baseline{
		Entity:        entity,
		EntityType:    entityType,
		BaselineValue: value,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("upsert baseline %s/%s: %w", entityType, entity, err)
	}
	r.cachePut(ctx, cacheKey(entity, entityType), value)
	return nil
}

// Resolve returns the stored baseline or a persisted fallback.
func (r *Resolver) Resolve(ctx context.Context, entity, entityType string) (float64, error) {
	v, ok, err := r.Get(ctx, entity, entityType)
	if err != nil {
		return 0, err
	}
	if ok {
		return v, nil
	}

	v, err = r.Fallback(ctx, entity, entityType)
	if err != nil {
		return 0, err
	}
	if err := r.Upsert(ctx, entity, entityType, v); err != nil {
		// The computed value is still usable for this detection.
		r.log.Warn("failed to persist fallback baseline",
			zap.String("entity", entity),
			zap.String("entity_type", entityType),
			zap.Error(err),
		)
	}
	return v, nil
}

// Fallback averages the entity's most recent predictions, or returns the
// configured default when there are none.
func (r *Resolver) Fallback(ctx context.Context, entity, entityType string) (float64, error) {
	preds, err := r.predictions.QueryPredictions(ctx, db.PredictionQuery{
		Entity:     entity,
		EntityType: entityType,
		Limit:      r.opts.Window,
	})
	if err != nil {
		return 0, fmt.Errorf("load prediction history for %s/%s: %w", entityType, entity, err)
	}
	if len(preds) == 0 {
		return r.opts.Default, nil
	}
	return mean(preds), nil
}

// Recalculate rewrites the baseline of every entity with prediction
// history. It returns how many baselines were written; per-entity failures
// are joined into the returned error without stopping the pass.
func (r *Resolver) Recalculate(ctx context.Context) (int, error) {
	keys, err := r.predictions.ListPredictionEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list prediction entities: %w", err)
	}

	var errs []error
	updated := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		v, err := r.Fallback(ctx, k.Entity, k.EntityType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.Upsert(ctx, k.Entity, k.EntityType, v); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}
	metrics.BaselinesRecalculated.Add(float64(updated))
	r.log.Info("baseline recalculation complete",
		zap.Int("entities", len(keys)),
		zap.Int("updated", updated),
		zap.Int("failed", len(errs)),
	)
	return updated, errors.Join(errs...)
}

func (r *Resolver) cachePut(ctx context.Context, key string, v float64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, []byte(strconv.FormatFloat(v, 'g', -1, 64)), r.opts.CacheTTL); err != nil {
		r.log.Warn("baseline cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func mean(preds []*models.Prediction) float64 {
	var sum float64
	for _, p := range preds {
		sum += p.CO2Kg
	}
	return sum / float64(len(preds))
}

package baseline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonnexus/orchestrator/internal/cache"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/models"
)

func newStore(t *testing.T) db.Store {
	t.Helper()
	s, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addPrediction(t *testing.T, s db.Store, eventID, entity string, co2 float64) {
	t.Helper()
	require.NoError(t, s.SavePrediction(context.Background(), &models.Prediction{
		EventID: eventID, Entity: entity, EntityType: models.EntityTypeSupplier,
		Kind: models.EventKindFactory, CO2Kg: co2,
	}))
}

func TestResolveHit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertBaseline(ctx, &models.Baseline{Entity: "Acme", EntityType: "supplier", BaselineValue: 42}))

	r := NewResolver(s, s, nil, Options{Default: 60}, nil)
	v, err := r.Resolve(ctx, "Acme", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestResolveMissUsesDefaultAndPersists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := NewResolver(s, s, nil, Options{Default: 60}, nil)
	v, err := r.Resolve(ctx, "NewCo", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)

	b, err := s.GetBaseline(ctx, "NewCo", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 60.0, b.BaselineValue)
}

func TestResolveMissAveragesHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	addPrediction(t, s, "e1", "Acme", 40)
	addPrediction(t, s, "e2", "Acme", 80)

	r := NewResolver(s, s, nil, Options{Default: 60}, nil)
	v, err := r.Resolve(ctx, "Acme", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)

	got, ok, err := r.Get(ctx, "Acme", "supplier")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 60.0, got)
}

func TestUpsertLastWriterWinsThroughCache(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := cache.NewMemory()
	r := NewResolver(s, s, c, Options{Default: 60, CacheTTL: time.Minute}, nil)

	require.NoError(t, r.Upsert(ctx, "Acme", "supplier", 10))
	require.NoError(t, r.Upsert(ctx, "Acme", "supplier", 20))

	v, ok, err := r.Get(ctx, "Acme", "supplier")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20.0, v)

	raw, ok, _ := c.Get(ctx, "baseline:supplier:Acme")
	assert.True(t, ok)
	assert.Equal(t, "20", string(raw))
}

func TestRecalculate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	addPrediction(t, s, "e1", "Acme", 30)
	addPrediction(t, s, "e2", "Acme", 50)
	addPrediction(t, s, "e3", "Globex", 100)
	require.NoError(t, s.UpsertBaseline(ctx, &models.Baseline{Entity: "Acme", EntityType: "supplier", BaselineValue: 999}))

	r := NewResolver(s, s, nil, Options{Default: 60, Window: 10}, nil)
	n, err := r.Recalculate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := s.GetBaseline(ctx, "Acme", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 40.0, b.BaselineValue)

	b, err = s.GetBaseline(ctx, "Globex", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.BaselineValue)
}

type brokenBaselines struct{ db.Store }

func (brokenBaselines) GetBaseline(context.Context, string, string) (*models.Baseline, error) {
	return nil, errors.New("connection reset")
}

func TestResolveStoreError(t *testing.T) {
	s := newStore(t)
	r := NewResolver(brokenBaselines{s}, s, nil, Options{Default: 60}, nil)
	_, err := r.Resolve(context.Background(), "Acme", "supplier")
	assert.Error(t, err)
}

type failingUpsert struct{ db.Store }

func (failingUpsert) UpsertBaseline(context.Context, *models.Baseline) error {
	return errors.New("read-only")
}

func TestResolveUpsertFailureStillReturnsValue(t *testing.T) {
	s := newStore(t)
	r := NewResolver(failingUpsert{s}, s, nil, Options{Default: 60}, nil)
	v, err := r.Resolve(context.Background(), "Acme", "supplier")
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)
}

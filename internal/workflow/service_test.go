package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonnexus/orchestrator/internal/audit"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
)

func setup(t *testing.T) (db.Store, *Service) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	al, err := audit.NewLogger(store, &audit.Config{}, nil)
	require.NoError(t, err)
	return store, NewService(store, al, nil)
}

func seedRecommendation(t *testing.T, store db.Store) *models.Recommendation {
	t.Helper()
	ctx := context.Background()
	h := &models.Hotspot{Entity: "Acme", EntityType: "supplier", PredictedCO2: 90, BaselineCO2: 60,
		PercentAbove: 50, Severity: models.SeverityCritical, Status: models.HotspotActive, EventID: "e1"}
	require.NoError(t, store.InsertHotspot(ctx, h))
	rec := &models.Recommendation{
		HotspotID: h.ID,
		Entity:    "Acme",
		RootCause: "idle furnace",
		Actions:   []models.Action{{Title: "Schedule", CO2Reduction: 12}},
		Status:    models.RecommendationPending,
	}
	require.NoError(t, store.InsertRecommendation(ctx, rec))
	return rec
}

func auditCount(t *testing.T, store db.Store) int {
	t.Helper()
	entries, err := store.QueryAuditLogs(context.Background(), db.AuditQuery{})
	require.NoError(t, err)
	return len(entries)
}

func TestApprove(t *testing.T) {
	store, svc := setup(t)
	rec := seedRecommendation(t, store)

	got, err := svc.Approve(context.Background(), rec.ID, "looks right")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationApproved, got.Status)

	entries, err := store.QueryAuditLogs(context.Background(), db.AuditQuery{EntityID: rec.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionApproveRecommendation, entries[0].Action)
	assert.Equal(t, audit.EntityRecommendation, entries[0].EntityType)
	assert.Equal(t, "looks right", entries[0].Notes)
}

func TestReject(t *testing.T) {
	store, svc := setup(t)
	rec := seedRecommendation(t, store)

	got, err := svc.Reject(context.Background(), rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationRejected, got.Status)

	entries, err := store.QueryAuditLogs(context.Background(), db.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRejectRecommendation, entries[0].Action)
}

func TestApproveUnknownWritesNoAudit(t *testing.T) {
	store, svc := setup(t)
	_, err := svc.Approve(context.Background(), "does-not-exist", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, auditCount(t, store))
}

func TestSecondDecisionIsRejected(t *testing.T) {
	store, svc := setup(t)
	rec := seedRecommendation(t, store)
	ctx := context.Background()

	_, err := svc.Approve(ctx, rec.ID, "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, rec.ID, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = svc.Reject(ctx, rec.ID, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	assert.Equal(t, 1, auditCount(t, store))
	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationApproved, got.Status)
}

func TestListAndStats(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()
	a := seedRecommendation(t, store)
	seedRecommendation(t, store)

	_, err := svc.Approve(ctx, a.ID, "")
	require.NoError(t, err)

	pending, err := svc.List(ctx, models.RecommendationPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.RecommendationApproved])
	assert.Equal(t, 12.0, stats.TotalCO2Reduction)
}

func TestGetUnknown(t *testing.T) {
	_, svc := setup(t)
	_, err := svc.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type failingAudit struct{ audit.Logger }

func (failingAudit) Record(context.Context, *audit.Entry) error {
	return errors.New("audit store full")
}

func TestAuditFailureKeepsCommittedDecision(t *testing.T) {
	store, svc := setup(t)
	rec := seedRecommendation(t, store)
	svc.audit = failingAudit{svc.audit}
	failures := metrics.AuditWriteFailures.WithLabelValues(audit.ActionApproveRecommendation)
	before := testutil.ToFloat64(failures)

	got, err := svc.Approve(context.Background(), rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationApproved, got.Status)
	assert.Equal(t, before+1, testutil.ToFloat64(failures))

	// The decision is final even though it was never audited.
	_, err = svc.Reject(context.Background(), rec.ID, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, 0, auditCount(t, store))
}

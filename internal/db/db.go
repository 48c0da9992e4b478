package db

import (
	"context"
	"errors"
	"time"

	"github.com/carbonnexus/orchestrator/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("db: not found")

// ErrStatusConflict is returned by conditional status updates when the row
// exists but is not in the expected state.
var ErrStatusConflict = errors.New("db: status conflict")

// Store is the main persistence interface of the orchestrator.
type Store interface {
	EventStore
	PredictionStore
	BaselineStore
	HotspotStore
	AlertStore
	RecommendationStore
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Events ───────────────────────────────────────────────────────────────────

// EventStore reads normalized events written by the upstream pipeline.
type EventStore interface {
	// InsertEvent writes a normalized event. The upstream pipeline owns this
	// table; the orchestrator only writes to it when seeding.
	InsertEvent(ctx context.Context, e *models.NormalizedEvent) error

	// ListUnevaluatedEvents returns up to limit events that have neither a
	// prediction nor a skip marker, oldest first. Each event's Kind is
	// classified on read.
	ListUnevaluatedEvents(ctx context.Context, limit int) ([]*models.NormalizedEvent, error)

	// ClaimEvent atomically records that scanID is processing eventID.
	// It returns false when another scan already holds the claim.
	ClaimEvent(ctx context.Context, eventID, scanID string) (bool, error)

	// ReleaseClaim drops scanID's claim on eventID so a later scan can
	// retry the event. Releasing a claim held by another scan is a no-op.
	ReleaseClaim(ctx context.Context, eventID, scanID string) error

	// MarkEventSkipped records that eventID can never be predicted, so
	// later scans stop listing it. Marking an event twice keeps the first
	// reason.
	MarkEventSkipped(ctx context.Context, eventID, reason string) error
}

// ─── Predictions ──────────────────────────────────────────────────────────────

// PredictionQuery filters prediction reads. Zero values match everything.
type PredictionQuery struct {
	Entity     string
	EntityType string
	Limit      int
}

// EntityKey identifies a baseline subject.
type EntityKey struct {
	Entity     string
	EntityType string
}

// PredictionStore persists oracle estimates.
type PredictionStore interface {
	// SavePrediction stores an estimate and marks its event as evaluated.
	// A second prediction for the same event replaces the first.
	SavePrediction(ctx context.Context, p *models.Prediction) error

	// QueryPredictions returns predictions newest first.
	QueryPredictions(ctx context.Context, q PredictionQuery) ([]*models.Prediction, error)

	// ListPredictionEntities returns every entity that has predictions.
	ListPredictionEntities(ctx context.Context) ([]EntityKey, error)
}

// ─── Baselines ────────────────────────────────────────────────────────────────

// BaselineStore persists per-entity baselines. Writes are last-writer-wins.
type BaselineStore interface {
	// GetBaseline returns ErrNotFound when no baseline exists.
	GetBaseline(ctx context.Context, entity, entityType string) (*models.Baseline, error)
	UpsertBaseline(ctx context.Context, b *models.Baseline) error
	ListBaselines(ctx context.Context) ([]*models.Baseline, error)
}

// ─── Hotspots ─────────────────────────────────────────────────────────────────

// HotspotQuery filters hotspot listings.
type HotspotQuery struct {
	Status   models.HotspotStatus
	Severity models.Severity
	Limit    int
	Offset   int
}

// HotspotStats aggregates hotspot counts.
type HotspotStats struct {
	Total        int                     `json:"total"`
	Active       int                     `json:"active"`
	BySeverity   map[models.Severity]int `json:"by_severity"`
	ByEntityType map[string]int          `json:"by_entity_type"`
}

// HotspotStore persists detected hotspots.
type HotspotStore interface {
	InsertHotspot(ctx context.Context, h *models.Hotspot) error
	GetHotspot(ctx context.Context, id string) (*models.Hotspot, error)
	QueryHotspots(ctx context.Context, q HotspotQuery) ([]*models.Hotspot, error)

	// TopHotspots returns active hotspots ordered by severity, then by
	// percent above baseline, both descending.
	TopHotspots(ctx context.Context, limit int) ([]*models.Hotspot, error)

	HotspotStats(ctx context.Context) (*HotspotStats, error)
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

// AlertQuery filters alert listings.
type AlertQuery struct {
	Level models.Severity
	Since time.Time
	Limit int
}

// AlertStore persists alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *models.Alert) error
	QueryAlerts(ctx context.Context, q AlertQuery) ([]*models.Alert, error)

	// AlertCounts returns the number of alerts per level.
	AlertCounts(ctx context.Context) (map[models.Severity]int, error)
}

// ─── Recommendations ──────────────────────────────────────────────────────────

// RecommendationQuery filters recommendation listings.
type RecommendationQuery struct {
	Status models.RecommendationStatus
	Limit  int
}

// RecommendationStats aggregates recommendation counts.
type RecommendationStats struct {
	Total             int                                 `json:"total"`
	ByStatus          map[models.RecommendationStatus]int `json:"by_status"`
	TotalCO2Reduction float64                             `json:"total_co2_reduction"`
}

// RecommendationStore persists recommendations.
type RecommendationStore interface {
	InsertRecommendation(ctx context.Context, r *models.Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error)
	QueryRecommendations(ctx context.Context, q RecommendationQuery) ([]*models.Recommendation, error)

	// TransitionRecommendation moves a recommendation from one status to
	// another. It returns ErrNotFound for an unknown id and
	// ErrStatusConflict when the current status is not from.
	TransitionRecommendation(ctx context.Context, id string, from, to models.RecommendationStatus) error

	// RecommendationStats counts by status; TotalCO2Reduction covers
	// approved and implemented recommendations.
	RecommendationStats(ctx context.Context) (*RecommendationStats, error)
}

// ─── Audit ────────────────────────────────────────────────────────────────────

// AuditQuery filters audit log reads.
type AuditQuery struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
	Offset     int
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *models.AuditLogEntry) error
	QueryAuditLogs(ctx context.Context, q AuditQuery) ([]*models.AuditLogEntry, error)
}

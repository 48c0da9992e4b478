package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/audit"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Package workflow records operator decisions on recommendations.
//
// A recommendation moves from pending to approved or rejected exactly once.
// Every successful decision appends one audit entry; rejected calls write
// nothing. An audit append that fails after the decision committed is
// logged and counted, and the decision still succeeds.

var (
	// ErrNotFound is returned for unknown recommendation ids.
	ErrNotFound = errors.New("recommendation not found")
	// ErrInvalidTransition is returned when the recommendation is no
	// longer pending.
	ErrInvalidTransition = errors.New("recommendation is not pending")
)

// Service applies approve/reject decisions.
type Service struct {
	store db.RecommendationStore
	audit audit.Logger
	log   *zap.Logger
}

// NewService creates a workflow service.
func NewService(store db.RecommendationStore, auditLog audit.Logger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, audit: auditLog, log: log.Named("workflow")}
}

// Approve marks a pending recommendation approved.
func (s *Service) Approve(ctx context.Context, id, notes string) (*models.Recommendation, error) {
	return s.decide(ctx, id, notes, models.RecommendationApproved, audit.ActionApproveRecommendation)
}

// Reject marks a pending recommendation rejected.
func (s *Service) Reject(ctx context.Context, id, notes string) (*models.Recommendation, error) {
	return s.decide(ctx, id, notes, models.RecommendationRejected, audit.ActionRejectRecommendation)
}

func (s *Service) decide(ctx context.Context, id, notes string, to models.RecommendationStatus, action string) (*models.Recommendation, error) {
	err := s.store.TransitionRecommendation(ctx, id, models.RecommendationPending, to)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, db.ErrStatusConflict):
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, id)
	case err != nil:
		return nil, fmt.Errorf("update recommendation %s: %w", id, err)
	}
	metrics.RecommendationDecisions.WithLabelValues(string(to)).Inc()

	// The status change is already committed, so a failed audit append
	// is logged and counted but does not fail the decision.
	entry := audit.NewEntry(action).
		WithEntity(audit.EntityRecommendation, id).
		WithNotes(notes)
	if err := s.audit.Record(ctx, entry); err != nil {
		metrics.AuditWriteFailures.WithLabelValues(action).Inc()
		s.log.Error("failed to append audit entry",
			zap.String("recommendation_id", id),
			zap.String("action", action),
			zap.Error(err),
		)
	}

	rec, err := s.store.GetRecommendation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload recommendation %s: %w", id, err)
	}
	s.log.Info("recommendation decided",
		zap.String("recommendation_id", id),
		zap.String("status", string(to)),
	)
	return rec, nil
}

// Get returns one recommendation.
func (s *Service) Get(ctx context.Context, id string) (*models.Recommendation, error) {
	rec, err := s.store.GetRecommendation(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// List returns recommendations, optionally filtered by status.
func (s *Service) List(ctx context.Context, status models.RecommendationStatus, limit int) ([]*models.Recommendation, error) {
	return s.store.QueryRecommendations(ctx, db.RecommendationQuery{Status: status, Limit: limit})
}

// Stats counts recommendations by status.
func (s *Service) Stats(ctx context.Context) (*db.RecommendationStats, error) {
	return s.store.RecommendationStats(ctx)
}

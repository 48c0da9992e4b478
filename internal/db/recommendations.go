package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carbonnexus/orchestrator/internal/models"
)

const recommendationColumns = `id, hotspot_id, entity, root_cause, actions, status, co2_reduction, created_at`

// ─── Recommendations ──────────────────────────────────────────────────────────

func (s *sqliteStore) InsertRecommendation(ctx context.Context, r *models.Recommendation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = timeNow()
	}
	if r.Status == "" {
		r.Status = models.RecommendationPending
	}
	actions := r.Actions
	if actions == nil {
		actions = []models.Action{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO recommendations(`+recommendationColumns+`) VALUES(?,?,?,?,?,?,?,?)
    `,
		r.ID, r.HotspotID, r.Entity, r.RootCause, string(raw), string(r.Status),
		r.CO2Reduction, formatTime(r.CreatedAt),
	)
	return err
}

func (s *sqliteStore) GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?`, id)
	r, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) QueryRecommendations(ctx context.Context, q RecommendationQuery) ([]*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE 1=1`
	args := []any{}

	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY created_at DESC` + limitClause(q.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *sqliteStore) TransitionRecommendation(ctx context.Context, id string, from, to models.RecommendationStatus) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE recommendations SET status = ? WHERE id = ? AND status = ?
    `, string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recommendations WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func (s *sqliteStore) RecommendationStats(ctx context.Context) (*RecommendationStats, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT status, COUNT(*), COALESCE(SUM(co2_reduction), 0) FROM recommendations GROUP BY status
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &RecommendationStats{ByStatus: map[models.RecommendationStatus]int{}}
	for rows.Next() {
		var status string
		var n int
		var reduction float64
		if err := rows.Scan(&status, &n, &reduction); err != nil {
			return nil, err
		}
		st := models.RecommendationStatus(status)
		stats.Total += n
		stats.ByStatus[st] = n
		if st == models.RecommendationApproved || st == models.RecommendationImplemented {
			stats.TotalCO2Reduction += reduction
		}
	}
	return stats, rows.Err()
}

func scanRecommendation(row rowScanner) (*models.Recommendation, error) {
	r := &models.Recommendation{}
	var actions, status, ts string
	if err := row.Scan(&r.ID, &r.HotspotID, &r.Entity, &r.RootCause, &actions,
		&status, &r.CO2Reduction, &ts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("decode actions for %s: %w", r.ID, err)
	}
	r.Status = models.RecommendationStatus(status)
	r.CreatedAt, _ = parseTime(ts)
	return r, nil
}

// ─── Audit ────────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditLog(ctx context.Context, e *models.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = timeNow()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_logs(id, action, entity_type, entity_id, notes, timestamp) VALUES(?,?,?,?,?,?)
    `, e.ID, e.Action, e.EntityType, e.EntityID, e.Notes, formatTime(e.Timestamp))
	return err
}

func (s *sqliteStore) QueryAuditLogs(ctx context.Context, q AuditQuery) ([]*models.AuditLogEntry, error) {
	query := `SELECT id, action, entity_type, entity_id, notes, timestamp FROM audit_logs WHERE 1=1`
	args := []any{}

	if q.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, q.EntityType)
	}
	if q.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, q.EntityID)
	}
	if q.Action != "" {
		query += ` AND action = ?`
		args = append(args, q.Action)
	}
	query += ` ORDER BY timestamp DESC` + limitClause(q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.AuditLogEntry
	for rows.Next() {
		e := &models.AuditLogEntry{}
		var ts string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.Notes, &ts); err != nil {
			return nil, err
		}
		e.Timestamp, _ = parseTime(ts)
		result = append(result, e)
	}
	return result, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/carbonnexus/orchestrator/internal/models"
)

const hotspotColumns = `id, entity, entity_type, predicted_co2, baseline_co2, percent_above, severity, status, event_id, created_at`

// severityRank orders hotspots by tier in SQL.
const severityRank = `CASE severity WHEN 'critical' THEN 3 WHEN 'warn' THEN 2 WHEN 'info' THEN 1 ELSE 0 END`

// ─── Hotspots ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertHotspot(ctx context.Context, h *models.Hotspot) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = timeNow()
	}
	if h.Status == "" {
		h.Status = models.HotspotActive
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO hotspots(`+hotspotColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `,
		h.ID, h.Entity, h.EntityType, h.PredictedCO2, h.BaselineCO2, h.PercentAbove,
		string(h.Severity), string(h.Status), h.EventID, formatTime(h.CreatedAt),
	)
	return err
}

func (s *sqliteStore) GetHotspot(ctx context.Context, id string) (*models.Hotspot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hotspotColumns+` FROM hotspots WHERE id = ?`, id)
	h, err := scanHotspot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

func (s *sqliteStore) QueryHotspots(ctx context.Context, q HotspotQuery) ([]*models.Hotspot, error) {
	query := `SELECT ` + hotspotColumns + ` FROM hotspots WHERE 1=1`
	args := []any{}

	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(q.Severity))
	}
	query += ` ORDER BY created_at DESC` + limitClause(q.Limit, q.Offset)

	return s.queryHotspots(ctx, query, args...)
}

func (s *sqliteStore) TopHotspots(ctx context.Context, limit int) ([]*models.Hotspot, error) {
	query := `SELECT ` + hotspotColumns + ` FROM hotspots WHERE status = ?
        ORDER BY ` + severityRank + ` DESC, percent_above DESC, created_at DESC` + limitClause(limit, 0)
	return s.queryHotspots(ctx, query, string(models.HotspotActive))
}

func (s *sqliteStore) HotspotStats(ctx context.Context) (*HotspotStats, error) {
	stats := &HotspotStats{
		BySeverity:   map[models.Severity]int{},
		ByEntityType: map[string]int{},
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT severity, entity_type, status, COUNT(*) FROM hotspots
        GROUP BY severity, entity_type, status
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sev, entityType, status string
		var n int
		if err := rows.Scan(&sev, &entityType, &status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.BySeverity[models.Severity(sev)] += n
		stats.ByEntityType[entityType] += n
		if status == string(models.HotspotActive) {
			stats.Active += n
		}
	}
	return stats, rows.Err()
}

func (s *sqliteStore) queryHotspots(ctx context.Context, query string, args ...any) ([]*models.Hotspot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Hotspot
	for rows.Next() {
		h, err := scanHotspot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func scanHotspot(row rowScanner) (*models.Hotspot, error) {
	h := &models.Hotspot{}
	var sev, status, ts string
	if err := row.Scan(&h.ID, &h.Entity, &h.EntityType, &h.PredictedCO2, &h.BaselineCO2,
		&h.PercentAbove, &sev, &status, &h.EventID, &ts); err != nil {
		return nil, err
	}
	h.Severity = models.Severity(sev)
	h.Status = models.HotspotStatus(status)
	h.CreatedAt, _ = parseTime(ts)
	return h, nil
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = timeNow()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO alerts(id, level, message, hotspot_id, created_at) VALUES(?,?,?,?,?)
    `, a.ID, string(a.Level), a.Message, a.HotspotID, formatTime(a.CreatedAt))
	return err
}

func (s *sqliteStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]*models.Alert, error) {
	query := `SELECT id, level, message, hotspot_id, created_at FROM alerts WHERE 1=1`
	args := []any{}

	if q.Level != "" {
		query += ` AND level = ?`
		args = append(args, string(q.Level))
	}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(q.Since))
	}
	query += ` ORDER BY created_at DESC` + limitClause(q.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Alert
	for rows.Next() {
		a := &models.Alert{}
		var level, ts string
		if err := rows.Scan(&a.ID, &level, &a.Message, &a.HotspotID, &ts); err != nil {
			return nil, err
		}
		a.Level = models.Severity(level)
		a.CreatedAt, _ = parseTime(ts)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *sqliteStore) AlertCounts(ctx context.Context) (map[models.Severity]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*) FROM alerts GROUP BY level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.Severity]int{}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[models.Severity(level)] = n
	}
	return counts, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/carbonnexus/orchestrator/internal/models"
)

const eventColumns = `e.id, e.supplier_name, e.route_id, e.timestamp,
    e.distance_km, e.load_weight_kg, e.vehicle_type, e.fuel_type, e.avg_speed, e.stop_events,
    e.energy_kwh, e.furnace_usage, e.cooling_load, e.shift_hours, e.machine_runtime_hours,
    e.temperature, e.refrigeration_load, e.inventory_volume,
    e.route_length, e.traffic_score, e.delivery_count`

// ─── Events ───────────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertEvent(ctx context.Context, e *models.NormalizedEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO events_normalized(id, supplier_name, route_id, timestamp,
            distance_km, load_weight_kg, vehicle_type, fuel_type, avg_speed, stop_events,
            energy_kwh, furnace_usage, cooling_load, shift_hours, machine_runtime_hours,
            temperature, refrigeration_load, inventory_volume,
            route_length, traffic_score, delivery_count)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		e.ID, e.SupplierName, e.RouteID, formatTime(e.Timestamp),
		nullFloat(e.DistanceKm), nullFloat(e.LoadWeightKg), e.VehicleType, e.FuelType,
		nullFloat(e.AvgSpeed), nullFloat(e.StopEvents),
		nullFloat(e.EnergyKwh), nullFloat(e.FurnaceUsage), nullFloat(e.CoolingLoad),
		nullFloat(e.ShiftHours), nullFloat(e.MachineRuntimeHours),
		nullFloat(e.Temperature), nullFloat(e.RefrigerationLoad), nullFloat(e.InventoryVolume),
		nullFloat(e.RouteLength), nullFloat(e.TrafficScore), nullFloat(e.DeliveryCount),
	)
	return err
}

func (s *sqliteStore) ListUnevaluatedEvents(ctx context.Context, limit int) ([]*models.NormalizedEvent, error) {
	query := `SELECT ` + eventColumns + `
        FROM events_normalized e
        LEFT JOIN predictions p ON p.event_id = e.id
        LEFT JOIN event_skips s ON s.event_id = e.id
        WHERE p.id IS NULL AND s.event_id IS NULL
        ORDER BY e.timestamp ASC, e.id ASC` + limitClause(limit, 0)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.NormalizedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		e.Kind = models.ClassifyEvent(e)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *sqliteStore) ClaimEvent(ctx context.Context, eventID, scanID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO event_claims(event_id, scan_id, claimed_at) VALUES(?,?,?)
    `, eventID, scanID, formatTime(timeNow()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ReleaseClaim(ctx context.Context, eventID, scanID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_claims WHERE event_id = ? AND scan_id = ?`, eventID, scanID)
	return err
}

func (s *sqliteStore) MarkEventSkipped(ctx context.Context, eventID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO event_skips(event_id, reason, skipped_at) VALUES(?,?,?)
    `, eventID, reason, formatTime(timeNow()))
	return err
}

func scanEvent(row rowScanner) (*models.NormalizedEvent, error) {
	e := &models.NormalizedEvent{}
	var ts string
	var distance, load, speed, stops, energy, furnace, cooling, shift, runtime,
		temp, refrig, inventory, routeLen, traffic, deliveries sql.NullFloat64
	if err := row.Scan(&e.ID, &e.SupplierName, &e.RouteID, &ts,
		&distance, &load, &e.VehicleType, &e.FuelType, &speed, &stops,
		&energy, &furnace, &cooling, &shift, &runtime,
		&temp, &refrig, &inventory,
		&routeLen, &traffic, &deliveries); err != nil {
		return nil, err
	}
	e.Timestamp, _ = parseTime(ts)
	e.DistanceKm, e.LoadWeightKg = floatPtr(distance), floatPtr(load)
	e.AvgSpeed, e.StopEvents = floatPtr(speed), floatPtr(stops)
	e.EnergyKwh, e.FurnaceUsage = floatPtr(energy), floatPtr(furnace)
	e.CoolingLoad, e.ShiftHours = floatPtr(cooling), floatPtr(shift)
	e.MachineRuntimeHours = floatPtr(runtime)
	e.Temperature, e.RefrigerationLoad = floatPtr(temp), floatPtr(refrig)
	e.InventoryVolume = floatPtr(inventory)
	e.RouteLength, e.TrafficScore = floatPtr(routeLen), floatPtr(traffic)
	e.DeliveryCount = floatPtr(deliveries)
	return e, nil
}

// ─── Predictions ──────────────────────────────────────────────────────────────

func (s *sqliteStore) SavePrediction(ctx context.Context, p *models.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = timeNow()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions(id, event_id, entity, entity_type, kind, co2_kg, confidence, model_version, created_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(event_id) DO UPDATE SET
            co2_kg        = excluded.co2_kg,
            confidence    = excluded.confidence,
            model_version = excluded.model_version,
            created_at    = excluded.created_at
    `,
		p.ID, p.EventID, p.Entity, p.EntityType, string(p.Kind), p.CO2Kg,
		p.Confidence, p.ModelVersion, formatTime(p.CreatedAt),
	)
	return err
}

func (s *sqliteStore) QueryPredictions(ctx context.Context, q PredictionQuery) ([]*models.Prediction, error) {
	query := `SELECT id, event_id, entity, entity_type, kind, co2_kg, confidence, model_version, created_at
        FROM predictions WHERE 1=1`
	args := []any{}

	if q.Entity != "" {
		query += ` AND entity = ?`
		args = append(args, q.Entity)
	}
	if q.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, q.EntityType)
	}
	query += ` ORDER BY created_at DESC` + limitClause(q.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Prediction
	for rows.Next() {
		p := &models.Prediction{}
		var kind, ts string
		if err := rows.Scan(&p.ID, &p.EventID, &p.Entity, &p.EntityType, &kind,
			&p.CO2Kg, &p.Confidence, &p.ModelVersion, &ts); err != nil {
			return nil, err
		}
		p.Kind = models.EventKind(kind)
		p.CreatedAt, _ = parseTime(ts)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *sqliteStore) ListPredictionEntities(ctx context.Context) ([]EntityKey, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT DISTINCT entity, entity_type FROM predictions ORDER BY entity, entity_type
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EntityKey
	for rows.Next() {
		var k EntityKey
		if err := rows.Scan(&k.Entity, &k.EntityType); err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

// ─── Baselines ────────────────────────────────────────────────────────────────

func (s *sqliteStore) GetBaseline(ctx context.Context, entity, entityType string) (*models.Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT entity, entity_type, baseline_value, updated_at
        FROM baselines WHERE entity = ? AND entity_type = ?
    `, entity, entityType)
	b, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *sqliteStore) UpsertBaseline(ctx context.Context, b *models.Baseline) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = timeNow()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO baselines(entity, entity_type, baseline_value, updated_at)
        VALUES(?,?,?,?)
        ON CONFLICT(entity, entity_type) DO UPDATE SET
            baseline_value = excluded.baseline_value,
            updated_at     = excluded.updated_at
    `, b.Entity, b.EntityType, b.BaselineValue, formatTime(b.UpdatedAt))
	return err
}

func (s *sqliteStore) ListBaselines(ctx context.Context) ([]*models.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT entity, entity_type, baseline_value, updated_at FROM baselines ORDER BY entity, entity_type
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBaseline(row rowScanner) (*models.Baseline, error) {
	b := &models.Baseline{}
	var ts string
	if err := row.Scan(&b.Entity, &b.EntityType, &b.BaselineValue, &ts); err != nil {
		return nil, err
	}
	b.UpdatedAt, _ = parseTime(ts)
	return b, nil
}

package models

// Package models defines the core data types shared across the orchestrator.
//
// These types describe the emission events read from the upstream
// normalization pipeline and the artifacts derived from them: baselines,
// predictions, hotspots, alerts, recommendations and the audit trail.

import "time"

// Severity is the tier assigned to an emission anomaly.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting; normal ranks lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a tier that a hotspot can carry.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarn || s == SeverityCritical
}

// HotspotStatus is the lifecycle state of a hotspot.
type HotspotStatus string

const (
	HotspotActive   HotspotStatus = "active"
	HotspotResolved HotspotStatus = "resolved"
)

// RecommendationStatus is the review state of a recommendation.
type RecommendationStatus string

const (
	RecommendationPending     RecommendationStatus = "pending"
	RecommendationApproved    RecommendationStatus = "approved"
	RecommendationRejected    RecommendationStatus = "rejected"
	RecommendationImplemented RecommendationStatus = "implemented"
)

// Valid reports whether s is a known recommendation status.
func (s RecommendationStatus) Valid() bool {
	switch s {
	case RecommendationPending, RecommendationApproved, RecommendationRejected, RecommendationImplemented:
		return true
	}
	return false
}

// Entity types a baseline or hotspot can be keyed by.
const (
	EntityTypeSupplier = "supplier"
	EntityTypeRoute    = "route"
)

// UnknownEntity names events that carry neither a supplier nor a route.
const UnknownEntity = "Unknown"

// Baseline is the expected emission value for an entity.
type Baseline struct {
	Entity        string    `json:"entity"`
	EntityType    string    `json:"entity_type"`
	BaselineValue float64   `json:"baseline_value"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Prediction is a persisted estimate returned by the prediction oracle.
// Its presence marks the source event as evaluated.
type Prediction struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Entity       string    `json:"entity"`
	EntityType   string    `json:"entity_type"`
	Kind         EventKind `json:"kind"`
	CO2Kg        float64   `json:"co2_kg"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Hotspot is an event whose predicted emission exceeded its baseline by at
// least the info threshold.
type Hotspot struct {
	ID           string        `json:"id"`
	Entity       string        `json:"entity"`
	EntityType   string        `json:"entity_type"`
	PredictedCO2 float64       `json:"predicted_co2"`
	BaselineCO2  float64       `json:"baseline_co2"`
	PercentAbove float64       `json:"percent_above"`
	Severity     Severity      `json:"severity"`
	Status       HotspotStatus `json:"status"`
	EventID      string        `json:"event_id"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Alert is the notification emitted once per hotspot.
type Alert struct {
	ID        string    `json:"id"`
	Level     Severity  `json:"level"`
	Message   string    `json:"message"`
	HotspotID string    `json:"hotspot_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is one mitigation step proposed by the recommendation oracle.
type Action struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	CO2Reduction float64 `json:"co2_reduction"`
	CostImpact   string  `json:"cost_impact"`
	Feasibility  float64 `json:"feasibility"`
	Confidence   float64 `json:"confidence"`
}

// Recommendation groups the mitigation actions proposed for a hotspot.
type Recommendation struct {
	ID           string               `json:"id"`
	HotspotID    string               `json:"hotspot_id"`
	Entity       string               `json:"entity"`
	RootCause    string               `json:"root_cause"`
	Actions      []Action             `json:"actions"`
	Status       RecommendationStatus `json:"status"`
	CO2Reduction float64              `json:"co2_reduction"`
	CreatedAt    time.Time            `json:"created_at"`
}

// TotalReduction sums the CO2 reduction of all actions.
func (r *Recommendation) TotalReduction() float64 {
	var total float64
	for _, a := range r.Actions {
		total += a.CO2Reduction
	}
	return total
}

// AuditLogEntry records a human decision on a recommendation.
type AuditLogEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Notes      string    `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Topic names a real-time broadcast channel.
type Topic string

const (
	TopicHotspots        Topic = "hotspots"
	TopicAlerts          Topic = "alerts"
	TopicRecommendations Topic = "recommendations"
)

// Topics lists every broadcast topic.
var Topics = []Topic{TopicHotspots, TopicAlerts, TopicRecommendations}

package audit

import (
	"time"

	"github.com/carbonnexus/orchestrator/internal/models"
)

// Audited actions.
const (
	ActionApproveRecommendation = "approve_recommendation"
	ActionRejectRecommendation  = "reject_recommendation"
	ActionTriggerScan           = "trigger_scan"
	ActionReloadConfig          = "reload_config"
)

// Audited entity types.
const (
	EntityRecommendation = "recommendation"
	EntityScan           = "scan"
	EntityConfig         = "config"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Entry is an audit record plus the fields that only go to the audit file.
type Entry struct {
	models.AuditLogEntry

	CorrelationID string         `json:"correlation_id,omitempty"`
	Result        Result         `json:"result"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEntry creates an entry for action with default values
func NewEntry(action string) *Entry {
	return &Entry{
		AuditLogEntry: models.AuditLogEntry{
			Action:    action,
			Timestamp: time.Now().UTC(),
		},
		Result:   ResultSuccess,
		Metadata: make(map[string]any),
	}
}

// WithEntity sets the entity being acted upon
func (e *Entry) WithEntity(entityType, entityID string) *Entry {
	e.EntityType = entityType
	e.EntityID = entityID
	return e
}

// WithNotes sets the reviewer's free-form notes
func (e *Entry) WithNotes(notes string) *Entry {
	e.Notes = notes
	return e
}

// WithCorrelationID sets the correlation ID for request tracking
func (e *Entry) WithCorrelationID(id string) *Entry {
	e.CorrelationID = id
	return e
}

// WithResult sets the result of the action
func (e *Entry) WithResult(result Result) *Entry {
	e.Result = result
	return e
}

// WithMetadata adds metadata to the entry
func (e *Entry) WithMetadata(key string, value any) *Entry {
	e.Metadata[key] = value
	return e
}

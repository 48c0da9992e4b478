package rest

import (
	"encoding/csv"
	"net/http"
	"time"

	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// ListAudit handles GET /audit.
// Query params: entity_type, entity_id, action, limit (default 100), offset,
// format=csv for export.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aq := db.AuditQuery{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     q.Get("action"),
	}
	var ok bool
	if aq.Limit, ok = intParam(w, r, "limit", 100, 1, 1000); !ok {
		return
	}
	if aq.Offset, ok = intParam(w, r, "offset", 0, 0, 1_000_000); !ok {
		return
	}

	entries, err := h.Audit.Query(r.Context(), aq)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	if q.Get("format") == "csv" {
		exportAuditCSV(w, entries)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(entries))
}

func exportAuditCSV(w http.ResponseWriter, entries []*models.AuditLogEntry) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=audit-log.csv")
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "timestamp", "action", "entity_type", "entity_id", "notes"})
	for _, e := range entries {
		_ = cw.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Action,
			e.EntityType,
			e.EntityID,
			e.Notes,
		})
	}
	cw.Flush()
}

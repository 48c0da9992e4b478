package rest

import (
	"net/http"

	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/models"
)

type alertStats struct {
	Total   int                     `json:"total"`
	ByLevel map[models.Severity]int `json:"by_level"`
}

// ListAlerts handles GET /alerts?level=&limit=
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	level := models.Severity(r.URL.Query().Get("level"))
	if level != "" && !level.Valid() {
		respondValidation(w, r, map[string]string{"level": "level must be one of: info warn critical"})
		return
	}
	limit, ok := intParam(w, r, "limit", 20, 1, 100)
	if !ok {
		return
	}
	h.listAlerts(w, r, db.AlertQuery{Level: level, Limit: limit})
}

// CriticalAlerts handles GET /alerts/critical?limit=
func (h *Handler) CriticalAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 10, 1, 50)
	if !ok {
		return
	}
	h.listAlerts(w, r, db.AlertQuery{Level: models.SeverityCritical, Limit: limit})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request, q db.AlertQuery) {
	alerts, err := h.Store.QueryAlerts(r.Context(), q)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(alerts))
}

// AlertStats handles GET /alerts/stats
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.AlertCounts(r.Context())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	out := alertStats{ByLevel: map[models.Severity]int{
		models.SeverityCritical: 0,
		models.SeverityWarn:     0,
		models.SeverityInfo:     0,
	}}
	for level, n := range counts {
		out.ByLevel[level] = n
		out.Total += n
	}
	respondJSON(w, http.StatusOK, out)
}

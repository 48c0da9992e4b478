package rest

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/analytics"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/pkg/types"
)

type scanResponse struct {
	Status        string `json:"status"`
	HotspotsFound int    `json:"hotspots_found"`
	*analytics.ScanReport
}

// ListHotspots handles GET /hotspots?status=&severity=&limit=&offset=
func (h *Handler) ListHotspots(w http.ResponseWriter, r *http.Request) {
	q := db.HotspotQuery{
		Status:   models.HotspotStatus(r.URL.Query().Get("status")),
		Severity: models.Severity(r.URL.Query().Get("severity")),
	}
	details := map[string]string{}
	if q.Status != "" && q.Status != models.HotspotActive && q.Status != models.HotspotResolved {
		details["status"] = "status must be one of: active resolved"
	}
	if q.Severity != "" && !q.Severity.Valid() {
		details["severity"] = "severity must be one of: info warn critical"
	}
	if len(details) > 0 {
		respondValidation(w, r, details)
		return
	}
	var ok bool
	if q.Limit, ok = intParam(w, r, "limit", 20, 1, 100); !ok {
		return
	}
	if q.Offset, ok = intParam(w, r, "offset", 0, 0, 1_000_000); !ok {
		return
	}

	hotspots, err := h.Store.QueryHotspots(r.Context(), q)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(hotspots))
}

// TopHotspots handles GET /hotspots/top?limit=
func (h *Handler) TopHotspots(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 5, 1, 20)
	if !ok {
		return
	}
	hotspots, err := h.Store.TopHotspots(r.Context(), limit)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(hotspots))
}

// HotspotStats handles GET /hotspots/stats
func (h *Handler) HotspotStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.HotspotStats(r.Context())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// TriggerScan handles POST /hotspots/scan
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.ScanWriteTimeout > 0 {
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(h.ScanWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.log.Warn("failed to extend scan write deadline", zap.Error(err))
		}
	}
	report, err := h.Scanner.TriggerScan(r.Context())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, scanResponse{
		Status:        "completed",
		HotspotsFound: len(report.Hotspots),
		ScanReport:    report,
	})
}

// LastScan handles GET /hotspots/scan/last
func (h *Handler) LastScan(w http.ResponseWriter, r *http.Request) {
	report := h.Scanner.LastReport()
	if report == nil {
		respondError(w, r, http.StatusNotFound, types.ErrCodeNotFound, "No scan has completed yet")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

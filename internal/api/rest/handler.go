// Package rest serves the orchestrator's HTTP API.
//
// Endpoint groups, all under /api/v1:
//  1. Hotspots: list, top, stats, manual scan, last scan report
//  2. Recommendations: list, pending, stats, get, approve, reject
//  3. Simulation: single and batch what-if comparisons
//  4. Alerts: list, critical, stats
//  5. Emissions: current, summary, forecast
//  6. Audit: decision trail, JSON or CSV
//
// /health, /ready, /metrics and the /ws/{topic} sockets are registered on
// the root router.
package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/analytics"
	"github.com/carbonnexus/orchestrator/internal/audit"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/internal/middleware"
	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/internal/realtime"
	"github.com/carbonnexus/orchestrator/internal/workflow"
)

// Scanner runs manual scans.
type Scanner interface {
	// TriggerScan runs one scan now. It may overlap a scheduled scan.
	TriggerScan(ctx context.Context) (*analytics.ScanReport, error)
	LastReport() *analytics.ScanReport
}

// Store is the read side the handlers query directly.
type Store interface {
	db.HotspotStore
	db.AlertStore
	Ping(ctx context.Context) error
}

// Deps are the handler's collaborators.
type Deps struct {
	Store     Store
	Scanner   Scanner
	Workflow  *workflow.Service
	Predictor prediction.Gateway
	Emissions *analytics.Emissions
	Audit     audit.Logger
	// Realtime serves the websocket topics; nil disables them.
	Realtime *realtime.Handler
	// ScanLimiter guards the manual scan trigger; nil disables limiting.
	ScanLimiter *middleware.RateLimiter
	// ScanWriteTimeout replaces the server's write deadline for the manual
	// scan trigger; zero keeps the server's.
	ScanWriteTimeout time.Duration
	Logger      *zap.Logger
}

// Handler manages HTTP request handlers.
type Handler struct {
	Deps
	predictTimeout time.Duration
	log            *zap.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Deps: deps, predictTimeout: 30 * time.Second, log: log.Named("rest")}
}

// SetupRoutes registers every route on router.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if h.Realtime != nil {
		for _, topic := range models.Topics {
			router.HandleFunc("/ws/"+string(topic), h.Realtime.ServeTopic(topic))
		}
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	// Hotspots
	api.HandleFunc("/hotspots", h.ListHotspots).Methods(http.MethodGet)
	api.HandleFunc("/hotspots/top", h.TopHotspots).Methods(http.MethodGet)
	api.HandleFunc("/hotspots/stats", h.HotspotStats).Methods(http.MethodGet)
	api.HandleFunc("/hotspots/scan/last", h.LastScan).Methods(http.MethodGet)
	var scan http.Handler = http.HandlerFunc(h.TriggerScan)
	if h.ScanLimiter != nil {
		scan = h.ScanLimiter.Middleware(scan)
	}
	api.Handle("/hotspots/scan", scan).Methods(http.MethodPost)

	// Recommendations
	api.HandleFunc("/recommendations", h.ListRecommendations).Methods(http.MethodGet)
	api.HandleFunc("/recommendations/pending", h.PendingRecommendations).Methods(http.MethodGet)
	api.HandleFunc("/recommendations/stats", h.RecommendationStats).Methods(http.MethodGet)
	api.HandleFunc("/recommendations/{id}", h.GetRecommendation).Methods(http.MethodGet)
	api.HandleFunc("/recommendations/{id}/approve", h.ApproveRecommendation).Methods(http.MethodPost)
	api.HandleFunc("/recommendations/{id}/reject", h.RejectRecommendation).Methods(http.MethodPost)

	// Simulation
	api.HandleFunc("/simulate", h.Simulate).Methods(http.MethodPost)
	api.HandleFunc("/simulate/batch", h.SimulateBatch).Methods(http.MethodPost)

	// Alerts
	api.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/critical", h.CriticalAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/stats", h.AlertStats).Methods(http.MethodGet)

	// Emissions
	api.HandleFunc("/emissions/current", h.CurrentEmissions).Methods(http.MethodGet)
	api.HandleFunc("/emissions/summary", h.EmissionsSummary).Methods(http.MethodGet)
	api.HandleFunc("/emissions/forecast", h.EmissionsForecast).Methods(http.MethodGet)

	// Audit
	api.HandleFunc("/audit", h.ListAudit).Methods(http.MethodGet)
}

// intParam reads an optional integer query parameter bounded by [min, max].
// ok is false after a validation error has been written.
func intParam(w http.ResponseWriter, r *http.Request, key string, def, min, max int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		respondValidation(w, r, map[string]string{
			key: key + " must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
		})
		return 0, false
	}
	return n, true
}

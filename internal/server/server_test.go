package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/carbonnexus/orchestrator/internal/analytics/severity"
	"github.com/carbonnexus/orchestrator/internal/audit"
	"github.com/carbonnexus/orchestrator/internal/config"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/models"
	"github.com/carbonnexus/orchestrator/internal/realtime"
)

func newOracle(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"co2_kg": 200, "model_version": "v1", "confidence": 0.9}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.GRPCPort = 0
	cfg.Database.SQLitePath = ":memory:"
	cfg.Logging.AuditLogPath = ""
	cfg.Prediction.BaseURL = newOracle(t).URL
	cfg.Recommendation.BaseURL = ""
	return cfg
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestNewRejectsInvalidThresholds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analytics.ThresholdWarn = 2.0
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestManualScanThroughRouter(t *testing.T) {
	s := newServer(t, testConfig(t))
	require.NoError(t, s.store.InsertEvent(context.Background(), &models.NormalizedEvent{
		ID:           "evt-1",
		SupplierName: "Acme",
		Timestamp:    time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		EnergyKwh:    models.Float(120),
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hotspots/scan", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	var body struct {
		Status        string `json:"status"`
		HotspotsFound int    `json:"hotspots_found"`
		ScanID        string `json:"scan_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body.Status)
	assert.Equal(t, 1, body.HotspotsFound)

	entries, err := s.audit.Query(context.Background(), db.AuditQuery{Action: audit.ActionTriggerScan, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, body.ScanID, entries[0].EntityID)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/hotspots?severity=critical", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var hotspots []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hotspots))
	require.Len(t, hotspots, 1)
	assert.Equal(t, "Acme", hotspots[0]["entity"])
}

type recordingConn struct {
	mu     sync.Mutex
	writes int
}

func (c *recordingConn) WriteMessage(int, []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return nil
}

func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }
func (c *recordingConn) Close() error                      { return nil }

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

var _ realtime.Conn = (*recordingConn)(nil)

func TestEmptyManualScanLeavesNoTrace(t *testing.T) {
	s := newServer(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.broadcast.Run(ctx) }()

	conn := &recordingConn{}
	for _, topic := range models.Topics {
		_, err := s.broadcast.Subscribe(topic, conn)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/hotspots/scan", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		HotspotsFound int `json:"hotspots_found"`
		EventsRead    int `json:"events_read"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.EventsRead)
	assert.Equal(t, 0, body.HotspotsFound)

	entries, err := s.audit.Query(context.Background(), db.AuditQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, entries)

	preds, err := s.store.QueryPredictions(context.Background(), db.PredictionQuery{})
	require.NoError(t, err)
	assert.Empty(t, preds)

	assert.Never(t, func() bool { return conn.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t, testConfig(t))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/hotspots", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplyConfigUpdatesThresholds(t *testing.T) {
	s := newServer(t, testConfig(t))
	next := *s.cfg
	next.Analytics.ThresholdInfo = 1.2
	next.Analytics.ThresholdWarn = 1.4
	next.Analytics.ThresholdCritical = 2.0

	s.applyConfig(context.Background(), next)
	assert.Equal(t, severity.Thresholds{Info: 1.2, Warn: 1.4, Critical: 2.0}, s.detector.Thresholds())

	entries, err := s.audit.Query(context.Background(), db.AuditQuery{Action: audit.ActionReloadConfig, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Unchanged thresholds are not audited again.
	s.applyConfig(context.Background(), next)
	entries, err = s.audit.Query(context.Background(), db.AuditQuery{Action: audit.ActionReloadConfig, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApplyConfigRejectsInvalidThresholds(t *testing.T) {
	s := newServer(t, testConfig(t))
	before := s.detector.Thresholds()
	next := *s.cfg
	next.Analytics.ThresholdInfo = 3.0

	s.applyConfig(context.Background(), next)
	assert.Equal(t, before, s.detector.Thresholds())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	s := newServer(t, cfg)
	reloads := make(chan config.Config, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, reloads) }()

	next := *cfg
	next.Analytics.ThresholdCritical = 1.8
	reloads <- next
	require.Eventually(t, func() bool {
		return s.detector.Thresholds().Critical == 1.8
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

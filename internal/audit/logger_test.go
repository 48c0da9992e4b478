package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/models"
)

func newTestStore(t *testing.T) db.Store {
	t.Helper()
	s, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type failingStore struct{}

func (failingStore) AppendAuditLog(context.Context, *models.AuditLogEntry) error {
	return errors.New("disk full")
}

func (failingStore) QueryAuditLogs(context.Context, db.AuditQuery) ([]*models.AuditLogEntry, error) {
	return nil, nil
}

func TestNewLoggerRequiresStore(t *testing.T) {
	if _, err := NewLogger(nil, nil, nil); err == nil {
		t.Fatal("Expected error for nil store")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.MaxBackups != 10 {
		t.Errorf("Expected max backups 10, got %d", config.MaxBackups)
	}
}

func TestRecordPersistsAndMirrors(t *testing.T) {
	tmpDir := t.TempDir()
	store := newTestStore(t)

	config := &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		MaxSize:      10,
		MaxBackups:   3,
		MaxAge:       7,
	}
	logger, err := NewLogger(store, config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := WithCorrelationID(context.Background(), "req-123")
	entry := NewEntry(ActionApproveRecommendation).
		WithEntity(EntityRecommendation, "rec-1").
		WithNotes("cheapest option first")

	if err := logger.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("Expected entry ID to be assigned")
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	got, err := logger.Query(context.Background(), db.AuditQuery{EntityID: "rec-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(got))
	}
	if got[0].Action != ActionApproveRecommendation || got[0].EntityType != EntityRecommendation {
		t.Errorf("Unexpected stored entry: %+v", got[0])
	}
	if got[0].Notes != "cheapest option first" {
		t.Errorf("Expected notes to round-trip, got %q", got[0].Notes)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	logContent := string(content)
	if !strings.Contains(logContent, "req-123") {
		t.Error("Log does not contain correlation ID")
	}
	if !strings.Contains(logContent, ActionApproveRecommendation) {
		t.Error("Log does not contain action")
	}
}

func TestRecordStoreFailure(t *testing.T) {
	logger, err := NewLogger(failingStore{}, &Config{}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	err = logger.Record(context.Background(), NewEntry(ActionRejectRecommendation).WithEntity(EntityRecommendation, "rec-2"))
	if err == nil {
		t.Fatal("Expected store error to be returned")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if id := GetCorrelationID(ctx); id != "" {
		t.Errorf("Expected empty correlation ID, got %s", id)
	}
	ctx = WithCorrelationID(ctx, "abc")
	if id := GetCorrelationID(ctx); id != "abc" {
		t.Errorf("Expected correlation ID 'abc', got %s", id)
	}
}

func TestEntryBuilderChain(t *testing.T) {
	entry := NewEntry(ActionTriggerScan).
		WithEntity(EntityScan, "scan-9").
		WithCorrelationID("c-1").
		WithResult(ResultFailure).
		WithMetadata("events_read", 12)

	if entry.Action != ActionTriggerScan {
		t.Errorf("Expected action %s, got %s", ActionTriggerScan, entry.Action)
	}
	if entry.EntityID != "scan-9" || entry.EntityType != EntityScan {
		t.Errorf("Unexpected entity: %s/%s", entry.EntityType, entry.EntityID)
	}
	if entry.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", entry.Result)
	}
	if entry.Metadata["events_read"] != 12 {
		t.Errorf("Expected metadata events_read=12, got %v", entry.Metadata["events_read"])
	}
	if entry.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/logger"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Record appends an entry to the audit store and mirrors it to the
	// audit log file. A store failure is returned; the file is best-effort.
	Record(ctx context.Context, entry *Entry) error

	// Query reads audit entries back from the store.
	Query(ctx context.Context, q db.AuditQuery) ([]*models.AuditLogEntry, error)

	// Sync flushes the audit file
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file; empty disables the file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	store     db.AuditStore
	appLogger *zap.Logger
	fileLog   *zap.Logger
}

// NewLogger creates a new audit logger
func NewLogger(store db.AuditStore, config *Config, appLogger *zap.Logger) (Logger, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	fileLog := zap.NewNop()
	if config.AuditLogPath != "" {
		// Audit logs are always INFO level, append-only.
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(logger.EncoderConfig()),
			zapcore.AddSync(logger.Rotator(config.AuditLogPath, config.MaxSize, config.MaxBackups, config.MaxAge)),
			zapcore.InfoLevel,
		)
		fileLog = zap.New(core)
	}

	return &auditLogger{
		store:     store,
		appLogger: appLogger.Named("audit"),
		fileLog:   fileLog,
	}, nil
}

// Record appends entry to the store and the audit file.
func (l *auditLogger) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = GetCorrelationID(ctx)
	}

	if err := l.store.AppendAuditLog(ctx, &entry.AuditLogEntry); err != nil {
		l.appLogger.Error("failed to persist audit entry",
			zap.Error(err),
			zap.String("action", entry.Action),
			zap.String("entity_id", entry.EntityID),
		)
		return fmt.Errorf("append audit log: %w", err)
	}

	l.fileLog.Info(entry.Action,
		zap.String("audit_id", entry.ID),
		zap.String("correlation_id", entry.CorrelationID),
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID),
		zap.String("notes", entry.Notes),
		zap.String("result", string(entry.Result)),
		zap.Any("metadata", entry.Metadata),
		zap.Time("recorded_at", entry.Timestamp),
	)
	return nil
}

func (l *auditLogger) Query(ctx context.Context, q db.AuditQuery) ([]*models.AuditLogEntry, error) {
	return l.store.QueryAuditLogs(ctx, q)
}

// Sync flushes the audit file
func (l *auditLogger) Sync() error {
	return l.fileLog.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	return l.Sync()
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

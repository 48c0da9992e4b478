package config

import "context"

// Package config provides configuration management for the orchestrator.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (CARBON_* prefix, "." replaced by "_")
//   2. YAML config file (default: /etc/carbonnexus/orchestrator.yaml)
//   3. Built-in defaults
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8003)
//      - grpc_port: gRPC health port (default 9003, 0 disables)
//      - allowed_origins: CORS and WebSocket origin allow-list
//      - scan_timeout_seconds: response deadline of POST /hotspots/scan
//
//   2. Database
//      - sqlite_path: Path to SQLite file
//
//   3. Prediction / Recommendation
//      - base_url: oracle endpoint
//      - timeout_seconds: per-call timeout
//      - breaker_failures / breaker_timeout_seconds: circuit breaker tuning
//
//   4. Analytics
//      - threshold_info / threshold_warn / threshold_critical: severity ratios
//      - scan_batch_size: events per scan
//      - baseline_window: predictions averaged for fallback baselines
//      - default_baseline: baseline used when an entity has no history
//      - claim_events: skip events another scan already claimed
//
//   5. Scheduler
//      - hotspot_interval_seconds / baseline_interval_seconds
//
//   6. Redis, Kafka, Cache, RateLimit, Logging
//
// Thresholds may be changed at runtime by editing the config file; see
// ConfigManager.Watch.
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port     int
		GRPCPort int
		// AllowedOrigins is a list of origins permitted to call the API and
		// open WebSocket connections. Use ["*"] to allow any origin.
		AllowedOrigins         []string
		ShutdownTimeoutSeconds int
		// ScanTimeoutSeconds is the write deadline of the manual scan
		// endpoint, which outlives the server-wide write timeout.
		ScanTimeoutSeconds int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Prediction oracle configuration
	Prediction struct {
		BaseURL               string
		TimeoutSeconds        int
		BreakerFailures       int
		BreakerTimeoutSeconds int
	}

	// Recommendation oracle configuration
	Recommendation struct {
		BaseURL               string
		TimeoutSeconds        int
		BreakerFailures       int
		BreakerTimeoutSeconds int
	}

	// Analytics configuration
	Analytics struct {
		ThresholdInfo     float64
		ThresholdWarn     float64
		ThresholdCritical float64
		ScanBatchSize     int
		BaselineWindow    int
		DefaultBaseline   float64
		ClaimEvents       bool
	}

	// Scheduler configuration
	Scheduler struct {
		Enabled                 bool
		HotspotIntervalSeconds  int
		BaselineIntervalSeconds int
	}

	// Redis configuration; an empty address disables Redis features.
	Redis struct {
		Address  string
		Password string
		DB       int
	}

	// Kafka alert bus configuration
	Kafka struct {
		Enabled     bool
		Brokers     []string
		AlertsTopic string
	}

	// Cache configuration
	Cache struct {
		EnableCaching bool
		TTLSeconds    int
	}

	// RateLimit configuration for manual triggers
	RateLimit struct {
		ScanPerMinute int
		Burst         int
	}

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers each valid reload.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/carbonnexus/orchestrator.yaml")
}

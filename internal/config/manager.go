package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("CARBON")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing config file is fine; defaults and env vars still apply.
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidation(m.Get(ctx).Validate())
}

// Watch watches for configuration changes and reloads. Invalid edits are
// dropped and the previous configuration stays in effect.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		prev := m.Get(ctx)
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		cur := m.Get(ctx)
		if len(cur.Validate()) > 0 {
			m.mu.Lock()
			m.config = prev
			m.mu.Unlock()
			return
		}
		select {
		case m.watchChan <- *cur:
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)
	m.viper.SetDefault("server.scan_timeout_seconds", defaults.Server.ScanTimeoutSeconds)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Oracle defaults
	m.viper.SetDefault("prediction.base_url", defaults.Prediction.BaseURL)
	m.viper.SetDefault("prediction.timeout_seconds", defaults.Prediction.TimeoutSeconds)
	m.viper.SetDefault("prediction.breaker_failures", defaults.Prediction.BreakerFailures)
	m.viper.SetDefault("prediction.breaker_timeout_seconds", defaults.Prediction.BreakerTimeoutSeconds)
	m.viper.SetDefault("recommendation.base_url", defaults.Recommendation.BaseURL)
	m.viper.SetDefault("recommendation.timeout_seconds", defaults.Recommendation.TimeoutSeconds)
	m.viper.SetDefault("recommendation.breaker_failures", defaults.Recommendation.BreakerFailures)
	m.viper.SetDefault("recommendation.breaker_timeout_seconds", defaults.Recommendation.BreakerTimeoutSeconds)

	// Analytics defaults
	m.viper.SetDefault("analytics.threshold_info", defaults.Analytics.ThresholdInfo)
	m.viper.SetDefault("analytics.threshold_warn", defaults.Analytics.ThresholdWarn)
	m.viper.SetDefault("analytics.threshold_critical", defaults.Analytics.ThresholdCritical)
	m.viper.SetDefault("analytics.scan_batch_size", defaults.Analytics.ScanBatchSize)
	m.viper.SetDefault("analytics.baseline_window", defaults.Analytics.BaselineWindow)
	m.viper.SetDefault("analytics.default_baseline", defaults.Analytics.DefaultBaseline)
	m.viper.SetDefault("analytics.claim_events", defaults.Analytics.ClaimEvents)

	// Scheduler defaults
	m.viper.SetDefault("scheduler.enabled", defaults.Scheduler.Enabled)
	m.viper.SetDefault("scheduler.hotspot_interval_seconds", defaults.Scheduler.HotspotIntervalSeconds)
	m.viper.SetDefault("scheduler.baseline_interval_seconds", defaults.Scheduler.BaselineIntervalSeconds)

	// Redis / Kafka defaults
	m.viper.SetDefault("redis.address", defaults.Redis.Address)
	m.viper.SetDefault("redis.password", defaults.Redis.Password)
	m.viper.SetDefault("redis.db", defaults.Redis.DB)
	m.viper.SetDefault("kafka.enabled", defaults.Kafka.Enabled)
	m.viper.SetDefault("kafka.brokers", defaults.Kafka.Brokers)
	m.viper.SetDefault("kafka.alerts_topic", defaults.Kafka.AlertsTopic)

	// Cache / rate limit defaults
	m.viper.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("ratelimit.scan_per_minute", defaults.RateLimit.ScanPerMinute)
	m.viper.SetDefault("ratelimit.burst", defaults.RateLimit.Burst)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")
	cfg.Server.ScanTimeoutSeconds = m.viper.GetInt("server.scan_timeout_seconds")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Oracles
	cfg.Prediction.BaseURL = m.viper.GetString("prediction.base_url")
	cfg.Prediction.TimeoutSeconds = m.viper.GetInt("prediction.timeout_seconds")
	cfg.Prediction.BreakerFailures = m.viper.GetInt("prediction.breaker_failures")
	cfg.Prediction.BreakerTimeoutSeconds = m.viper.GetInt("prediction.breaker_timeout_seconds")
	cfg.Recommendation.BaseURL = m.viper.GetString("recommendation.base_url")
	cfg.Recommendation.TimeoutSeconds = m.viper.GetInt("recommendation.timeout_seconds")
	cfg.Recommendation.BreakerFailures = m.viper.GetInt("recommendation.breaker_failures")
	cfg.Recommendation.BreakerTimeoutSeconds = m.viper.GetInt("recommendation.breaker_timeout_seconds")

	// Analytics
	cfg.Analytics.ThresholdInfo = m.viper.GetFloat64("analytics.threshold_info")
	cfg.Analytics.ThresholdWarn = m.viper.GetFloat64("analytics.threshold_warn")
	cfg.Analytics.ThresholdCritical = m.viper.GetFloat64("analytics.threshold_critical")
	cfg.Analytics.ScanBatchSize = m.viper.GetInt("analytics.scan_batch_size")
	cfg.Analytics.BaselineWindow = m.viper.GetInt("analytics.baseline_window")
	cfg.Analytics.DefaultBaseline = m.viper.GetFloat64("analytics.default_baseline")
	cfg.Analytics.ClaimEvents = m.viper.GetBool("analytics.claim_events")

	// Scheduler
	cfg.Scheduler.Enabled = m.viper.GetBool("scheduler.enabled")
	cfg.Scheduler.HotspotIntervalSeconds = m.viper.GetInt("scheduler.hotspot_interval_seconds")
	cfg.Scheduler.BaselineIntervalSeconds = m.viper.GetInt("scheduler.baseline_interval_seconds")

	// Redis / Kafka
	cfg.Redis.Address = m.viper.GetString("redis.address")
	cfg.Redis.Password = m.viper.GetString("redis.password")
	cfg.Redis.DB = m.viper.GetInt("redis.db")
	cfg.Kafka.Enabled = m.viper.GetBool("kafka.enabled")
	cfg.Kafka.Brokers = m.viper.GetStringSlice("kafka.brokers")
	cfg.Kafka.AlertsTopic = m.viper.GetString("kafka.alerts_topic")

	// Cache / rate limit
	cfg.Cache.EnableCaching = m.viper.GetBool("cache.enable_caching")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")
	cfg.RateLimit.ScanPerMinute = m.viper.GetInt("ratelimit.scan_per_minute")
	cfg.RateLimit.Burst = m.viper.GetInt("ratelimit.burst")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var errMsgs []string
	for _, err := range errs {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
}

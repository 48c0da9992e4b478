package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8003
	cfg.Server.GRPCPort = 9003
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.ShutdownTimeoutSeconds = 10
	cfg.Server.ScanTimeoutSeconds = 600

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/carbonnexus/orchestrator.db"

	// Prediction oracle defaults
	cfg.Prediction.BaseURL = "http://localhost:8001"
	cfg.Prediction.TimeoutSeconds = 30
	cfg.Prediction.BreakerFailures = 5
	cfg.Prediction.BreakerTimeoutSeconds = 30

	// Recommendation oracle defaults
	cfg.Recommendation.BaseURL = "http://localhost:8004"
	cfg.Recommendation.TimeoutSeconds = 60
	cfg.Recommendation.BreakerFailures = 5
	cfg.Recommendation.BreakerTimeoutSeconds = 60

	// Analytics defaults
	cfg.Analytics.ThresholdInfo = 1.1
	cfg.Analytics.ThresholdWarn = 1.3
	cfg.Analytics.ThresholdCritical = 1.5
	cfg.Analytics.ScanBatchSize = 50
	cfg.Analytics.BaselineWindow = 100
	cfg.Analytics.DefaultBaseline = 60.0
	cfg.Analytics.ClaimEvents = false

	// Scheduler defaults
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.HotspotIntervalSeconds = 300
	cfg.Scheduler.BaselineIntervalSeconds = 3600

	// Redis defaults (disabled)
	cfg.Redis.Address = ""
	cfg.Redis.DB = 0

	// Kafka defaults (disabled)
	cfg.Kafka.Enabled = false
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.AlertsTopic = "emissions.alerts"

	// Cache defaults
	cfg.Cache.EnableCaching = true
	cfg.Cache.TTLSeconds = 300

	// Rate limit defaults
	cfg.RateLimit.ScanPerMinute = 6
	cfg.RateLimit.Burst = 2

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = ""
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30

	return cfg
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort),
		})
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: "grpc_port must differ from port",
		})
	}
	if c.Server.ScanTimeoutSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.scan_timeout_seconds",
			Message: fmt.Sprintf("scan_timeout_seconds must not be negative, got %d", c.Server.ScanTimeoutSeconds),
		})
	}

	// Database
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Oracles
	errs = append(errs, validateURL("prediction.base_url", c.Prediction.BaseURL)...)
	errs = append(errs, validateURL("recommendation.base_url", c.Recommendation.BaseURL)...)
	if c.Prediction.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "prediction.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Prediction.TimeoutSeconds),
		})
	}
	if c.Recommendation.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "recommendation.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Recommendation.TimeoutSeconds),
		})
	}

	// Analytics
	a := c.Analytics
	if a.ThresholdInfo <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.threshold_info",
			Message: fmt.Sprintf("threshold must be positive, got %v", a.ThresholdInfo),
		})
	}
	if !(a.ThresholdInfo < a.ThresholdWarn && a.ThresholdWarn < a.ThresholdCritical) {
		errs = append(errs, &ValidationError{
			Field: "analytics.thresholds",
			Message: fmt.Sprintf("thresholds must be strictly increasing (info < warn < critical), got %v/%v/%v",
				a.ThresholdInfo, a.ThresholdWarn, a.ThresholdCritical),
		})
	}
	if a.ScanBatchSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.scan_batch_size",
			Message: fmt.Sprintf("scan_batch_size must be at least 1, got %d", a.ScanBatchSize),
		})
	}
	if a.BaselineWindow < 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.baseline_window",
			Message: fmt.Sprintf("baseline_window must be at least 1, got %d", a.BaselineWindow),
		})
	}
	if a.DefaultBaseline < 0 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.default_baseline",
			Message: "default_baseline cannot be negative",
		})
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.HotspotIntervalSeconds < 1 {
			errs = append(errs, &ValidationError{
				Field:   "scheduler.hotspot_interval_seconds",
				Message: "interval must be at least 1 second",
			})
		}
		if c.Scheduler.BaselineIntervalSeconds < 1 {
			errs = append(errs, &ValidationError{
				Field:   "scheduler.baseline_interval_seconds",
				Message: "interval must be at least 1 second",
			})
		}
	}

	// Redis
	if c.Redis.Address != "" {
		if _, _, err := net.SplitHostPort(c.Redis.Address); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "redis.address",
				Message: fmt.Sprintf("invalid address format (expected host:port): %v", err),
			})
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, &ValidationError{
				Field:   "kafka.brokers",
				Message: "at least one broker is required when kafka is enabled",
			})
		}
		if c.Kafka.AlertsTopic == "" {
			errs = append(errs, &ValidationError{
				Field:   "kafka.alerts_topic",
				Message: "alerts_topic is required when kafka is enabled",
			})
		}
	}

	// Rate limit
	if c.RateLimit.ScanPerMinute < 1 {
		errs = append(errs, &ValidationError{
			Field:   "ratelimit.scan_per_minute",
			Message: fmt.Sprintf("scan_per_minute must be at least 1, got %d", c.RateLimit.ScanPerMinute),
		})
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be json or console", c.Logging.Format),
		})
	}

	return errs
}

func validateURL(field, raw string) []error {
	if raw == "" {
		return []error{&ValidationError{Field: field, Message: "url is required"}}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{&ValidationError{Field: field, Message: fmt.Sprintf("invalid http url %q", raw)}}
	}
	return nil
}

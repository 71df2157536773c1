package config

import (
	"fmt"
	"os"
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

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate model configuration
	if c.Model.Window < 1 {
		errs = append(errs, &ValidationError{
			Field:   "model.window",
			Message: fmt.Sprintf("rolling window must be at least 1, got %d", c.Model.Window),
		})
	}
	if c.Model.Contamination <= 0 || c.Model.Contamination > 0.5 {
		errs = append(errs, &ValidationError{
			Field:   "model.contamination",
			Message: fmt.Sprintf("contamination must be in (0, 0.5], got %g", c.Model.Contamination),
		})
	}
	if c.Model.Trees < 1 {
		errs = append(errs, &ValidationError{
			Field:   "model.trees",
			Message: fmt.Sprintf("trees must be at least 1, got %d", c.Model.Trees),
		})
	}
	if c.Model.SubSampleSize < 2 {
		errs = append(errs, &ValidationError{
			Field:   "model.sub_sample_size",
			Message: fmt.Sprintf("sub_sample_size must be at least 2, got %d", c.Model.SubSampleSize),
		})
	}
	if c.Model.MinSamples < 2 {
		errs = append(errs, &ValidationError{
			Field:   "model.min_samples",
			Message: fmt.Sprintf("min_samples must be at least 2, got %d", c.Model.MinSamples),
		})
	}
	if c.Model.MaxAgeHours < 0 {
		errs = append(errs, &ValidationError{
			Field:   "model.max_age_hours",
			Message: fmt.Sprintf("max_age_hours cannot be negative, got %d", c.Model.MaxAgeHours),
		})
	}
	if c.Model.RetrainRecordCount < 0 {
		errs = append(errs, &ValidationError{
			Field:   "model.retrain_record_count",
			Message: fmt.Sprintf("retrain_record_count cannot be negative, got %d", c.Model.RetrainRecordCount),
		})
	}

	// Validate alert thresholds
	if c.Alerts.AnomalyRate <= 0 || c.Alerts.AnomalyRate >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "alerts.anomaly_rate",
			Message: fmt.Sprintf("anomaly_rate must be in (0, 1), got %g", c.Alerts.AnomalyRate),
		})
	}
	if c.Alerts.EfficiencyDecline <= 0 || c.Alerts.EfficiencyDecline >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "alerts.efficiency_decline",
			Message: fmt.Sprintf("efficiency_decline must be in (0, 1), got %g", c.Alerts.EfficiencyDecline),
		})
	}
	if c.Alerts.PoorPerformerRatio <= 0 || c.Alerts.PoorPerformerRatio >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "alerts.poor_performer_ratio",
			Message: fmt.Sprintf("poor_performer_ratio must be in (0, 1), got %g", c.Alerts.PoorPerformerRatio),
		})
	}
	if c.Alerts.FleetEfficiencyFloor <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "alerts.fleet_efficiency_floor",
			Message: fmt.Sprintf("fleet_efficiency_floor must be positive, got %g", c.Alerts.FleetEfficiencyFloor),
		})
	}
	if c.Alerts.FuelLeakLPer100KM <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "alerts.fuel_leak_l_per_100km",
			Message: fmt.Sprintf("fuel_leak_l_per_100km must be positive, got %g", c.Alerts.FuelLeakLPer100KM),
		})
	}
	if c.Alerts.RecentWindowHours < 1 {
		errs = append(errs, &ValidationError{
			Field:   "alerts.recent_window_hours",
			Message: fmt.Sprintf("recent_window_hours must be at least 1, got %d", c.Alerts.RecentWindowHours),
		})
	}
	if c.Alerts.BaselineWindowHours <= c.Alerts.RecentWindowHours {
		errs = append(errs, &ValidationError{
			Field:   "alerts.baseline_window_hours",
			Message: fmt.Sprintf("baseline_window_hours (%d) must exceed recent_window_hours (%d)",
				c.Alerts.BaselineWindowHours, c.Alerts.RecentWindowHours),
		})
	}

	// Validate logging configuration
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be json or text", c.Logging.Format),
		})
	}

	return errs
}

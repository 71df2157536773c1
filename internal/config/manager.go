package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("FLEETFUEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional: defaults plus env vars are a complete
	// configuration.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// file not found via viper - OK
		} else if os.IsNotExist(err) {
			// file not found via os - OK
		} else {
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
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update.
		}
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Model defaults
	m.viper.SetDefault("model.window", defaults.Model.Window)
	m.viper.SetDefault("model.contamination", defaults.Model.Contamination)
	m.viper.SetDefault("model.seed", defaults.Model.Seed)
	m.viper.SetDefault("model.trees", defaults.Model.Trees)
	m.viper.SetDefault("model.sub_sample_size", defaults.Model.SubSampleSize)
	m.viper.SetDefault("model.max_depth", defaults.Model.MaxDepth)
	m.viper.SetDefault("model.min_samples", defaults.Model.MinSamples)
	m.viper.SetDefault("model.max_age_hours", defaults.Model.MaxAgeHours)
	m.viper.SetDefault("model.retrain_record_count", defaults.Model.RetrainRecordCount)

	// Alert rule defaults
	m.viper.SetDefault("alerts.fuel_leak_l_per_100km", defaults.Alerts.FuelLeakLPer100KM)
	m.viper.SetDefault("alerts.anomaly_rate", defaults.Alerts.AnomalyRate)
	m.viper.SetDefault("alerts.efficiency_decline", defaults.Alerts.EfficiencyDecline)
	m.viper.SetDefault("alerts.poor_performer_ratio", defaults.Alerts.PoorPerformerRatio)
	m.viper.SetDefault("alerts.fleet_efficiency_floor", defaults.Alerts.FleetEfficiencyFloor)
	m.viper.SetDefault("alerts.cost_per_km", defaults.Alerts.CostPerKM)
	m.viper.SetDefault("alerts.recent_window_hours", defaults.Alerts.RecentWindowHours)
	m.viper.SetDefault("alerts.baseline_window_hours", defaults.Alerts.BaselineWindowHours)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Model
	cfg.Model.Window = m.viper.GetInt("model.window")
	cfg.Model.Contamination = m.viper.GetFloat64("model.contamination")
	cfg.Model.Seed = m.viper.GetInt64("model.seed")
	cfg.Model.Trees = m.viper.GetInt("model.trees")
	cfg.Model.SubSampleSize = m.viper.GetInt("model.sub_sample_size")
	cfg.Model.MaxDepth = m.viper.GetInt("model.max_depth")
	cfg.Model.MinSamples = m.viper.GetInt("model.min_samples")
	cfg.Model.MaxAgeHours = m.viper.GetInt("model.max_age_hours")
	cfg.Model.RetrainRecordCount = m.viper.GetInt("model.retrain_record_count")

	// Alerts
	cfg.Alerts.FuelLeakLPer100KM = m.viper.GetFloat64("alerts.fuel_leak_l_per_100km")
	cfg.Alerts.AnomalyRate = m.viper.GetFloat64("alerts.anomaly_rate")
	cfg.Alerts.EfficiencyDecline = m.viper.GetFloat64("alerts.efficiency_decline")
	cfg.Alerts.PoorPerformerRatio = m.viper.GetFloat64("alerts.poor_performer_ratio")
	cfg.Alerts.FleetEfficiencyFloor = m.viper.GetFloat64("alerts.fleet_efficiency_floor")
	cfg.Alerts.CostPerKM = m.viper.GetFloat64("alerts.cost_per_km")
	cfg.Alerts.RecentWindowHours = m.viper.GetInt("alerts.recent_window_hours")
	cfg.Alerts.BaselineWindowHours = m.viper.GetInt("alerts.baseline_window_hours")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	m.config = cfg
	return nil
}

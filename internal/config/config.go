package config

import "context"

// Package config provides configuration management for fleetfuel360.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading (for some settings)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (FLEETFUEL_* prefix)
//   3. YAML config files (default: /etc/fleetfuel/config.yaml)
//   4. Built-in defaults (lowest priority)

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Model configuration: feature engineering and training parameters.
	Model struct {
		// Window is the per-vehicle rolling-window size in observations.
		Window int
		// Contamination is the expected anomaly fraction, (0, 0.5].
		Contamination float64
		// Seed drives all training randomness for reproducibility.
		Seed int64
		Trees         int
		SubSampleSize int
		MaxDepth      int
		// MinSamples is the training floor: fewer rows refuse to train.
		MinSamples int
		// MaxAgeHours marks the model stale after this many hours.
		MaxAgeHours int
		// RetrainRecordCount marks the model stale after this many new
		// records arrive post-training. 0 disables the trigger.
		RetrainRecordCount int
	}

	// Alerts configuration: recommendation-rule thresholds and windows.
	Alerts struct {
		FuelLeakLPer100KM    float64
		AnomalyRate          float64
		EfficiencyDecline    float64
		PoorPerformerRatio   float64
		FleetEfficiencyFloor float64
		CostPerKM            float64
		// RecentWindowHours is the evaluation window for the rules.
		RecentWindowHours int
		// BaselineWindowHours is the longer trailing window rules compare
		// against.
		BaselineWindowHours int
	}

	// Logging configuration
	Logging LoggingConfig
}

// LoggingConfig configures the operational logger built by
// internal/logging.
type LoggingConfig struct {
	Level  string // debug | info | warn | error
	Format string // json | text
	// File enables rotating file output when non-empty; stdout is
	// always written.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
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
	return NewConfigManager("/etc/fleetfuel/config.yaml")
}

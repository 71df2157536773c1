package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8080
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/fleetfuel/fleetfuel360.db"

	// Model defaults
	cfg.Model.Window = 5
	cfg.Model.Contamination = 0.05
	cfg.Model.Seed = 42
	cfg.Model.Trees = 100
	cfg.Model.SubSampleSize = 256
	cfg.Model.MaxDepth = 12
	cfg.Model.MinSamples = 10
	cfg.Model.MaxAgeHours = 24
	cfg.Model.RetrainRecordCount = 500

	// Alert rule defaults
	cfg.Alerts.FuelLeakLPer100KM = 5.0
	cfg.Alerts.AnomalyRate = 0.20
	cfg.Alerts.EfficiencyDecline = 0.10
	cfg.Alerts.PoorPerformerRatio = 0.80
	cfg.Alerts.FleetEfficiencyFloor = 8.0
	cfg.Alerts.CostPerKM = 0.50
	cfg.Alerts.RecentWindowHours = 168  // one week
	cfg.Alerts.BaselineWindowHours = 720 // thirty days

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	return cfg
}

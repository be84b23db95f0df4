package config

import "time"

// MonitorConfig contains generation monitor configuration.
type MonitorConfig struct {
	// CleanupInterval is how often the monitor sweeps terminal generations out of memory.
	CleanupInterval time.Duration `env:"MONITOR_CLEANUP_INTERVAL" envDefault:"5m"`

	// Retention is how long terminal generations stay tracked after their last update.
	Retention time.Duration `env:"MONITOR_RETENTION" envDefault:"2h"`

	// SyncInterval is how often active generations are reconciled against the database.
	SyncInterval time.Duration `env:"MONITOR_SYNC_INTERVAL" envDefault:"10s"`

	// RecoveryWindow bounds how far back startup recovery looks for in-flight generations.
	RecoveryWindow time.Duration `env:"MONITOR_RECOVERY_WINDOW" envDefault:"1h"`

	// ExpectedDuration is the heuristic wall-clock estimate for a full generation,
	// used only to approximate progress for recovered generations.
	ExpectedDuration time.Duration `env:"MONITOR_EXPECTED_DURATION" envDefault:"3m"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.CleanupInterval < time.Minute {
		m.CleanupInterval = time.Minute
	}
	if m.Retention < 10*time.Minute {
		m.Retention = 10 * time.Minute
	}
	if m.SyncInterval < time.Second {
		m.SyncInterval = time.Second
	}
	if m.RecoveryWindow <= 0 {
		m.RecoveryWindow = time.Hour
	}
	if m.ExpectedDuration <= 0 {
		m.ExpectedDuration = 3 * time.Minute
	}
}

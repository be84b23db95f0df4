package config

import "time"

// ReaperConfig contains stuck-generation reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// ProcessingTimeout is how long a generation may stay in processing status
	// before the reaper treats it as stuck and queries the provider.
	ProcessingTimeout time.Duration `env:"REAPER_PROCESSING_TIMEOUT" envDefault:"30m"`

	// CompletedMaxAge is the maximum age for completed generations before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"720h"` // 30 days

	// FailedMaxAge is the maximum age for failed generations before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the number of rows processed per sweep query.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.ProcessingTimeout < 5*time.Minute {
		r.ProcessingTimeout = 5 * time.Minute
	}
	if r.CompletedMaxAge <= 0 {
		r.CompletedMaxAge = 720 * time.Hour
	}
	if r.FailedMaxAge <= 0 {
		r.FailedMaxAge = 168 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
}

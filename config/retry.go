package config

import "time"

// RetryConfig contains retry engine configuration.
type RetryConfig struct {
	// MaxAttempts is the maximum number of invocations for a retried operation.
	MaxAttempts int `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`

	// BackoffFactor is the exponential growth factor between attempts.
	BackoffFactor float64 `env:"RETRY_BACKOFF_FACTOR" envDefault:"2"`
}

// Sanitize applies guardrails to retry configuration values.
func (r *RetryConfig) Sanitize() {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = time.Second
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = 2
	}
}

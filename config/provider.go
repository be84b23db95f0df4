package config

import (
	"strings"
	"time"
)

// ProviderConfig contains configuration for querying external generation
// providers' task status APIs.
type ProviderConfig struct {
	// StatusBaseURL is the base URL of the provider status endpoint. Empty
	// disables provider queries; the reaper then treats stuck generations as
	// inconclusive.
	StatusBaseURL string `env:"PROVIDER_STATUS_BASE_URL" envDefault:""`

	// Timeout bounds each status query.
	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// APIKey is sent as a bearer token when set.
	APIKey string `env:"PROVIDER_API_KEY" envDefault:""`
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProviderConfig) Sanitize() {
	p.StatusBaseURL = strings.TrimRight(strings.TrimSpace(p.StatusBaseURL), "/")
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
}

package config

import (
	"strings"
	"time"
)

// MaterializeConfig contains materialization pipeline configuration.
type MaterializeConfig struct {
	// LockTTL bounds how long a materialization lease is held before it expires
	// on its own if the holder crashes without releasing.
	LockTTL time.Duration `env:"MATERIALIZE_LOCK_TTL" envDefault:"60s"`

	// FetchTimeout bounds the outbound binary download.
	FetchTimeout time.Duration `env:"MATERIALIZE_FETCH_TIMEOUT" envDefault:"45s"`

	// MaxBytes caps the size of a downloaded artifact.
	MaxBytes int64 `env:"MATERIALIZE_MAX_BYTES" envDefault:"104857600"` // 100 MiB

	// AllowedHosts is the download host allow-list. The object-storage domain and
	// known provider CDNs belong here.
	AllowedHosts []string `env:"MATERIALIZE_ALLOWED_HOSTS" envSeparator:"," envDefault:"cdn.sunoapi.org,audiopipe.suno.ai,storage.soundloom.io"`

	// AllowedExtensions is the accepted set of binary media extensions.
	AllowedExtensions []string `env:"MATERIALIZE_ALLOWED_EXTENSIONS" envSeparator:"," envDefault:".mp3,.wav,.flac,.ogg,.m4a"`

	// StorageRoot is the blob store root directory.
	StorageRoot string `env:"MATERIALIZE_STORAGE_ROOT" envDefault:"/var/lib/soundloom/audio"`

	// StorageBaseURL resolves stored objects to public URLs.
	StorageBaseURL string `env:"MATERIALIZE_STORAGE_BASE_URL" envDefault:"http://localhost:8080/audio"`
}

// Sanitize applies guardrails to materialization configuration values.
func (m *MaterializeConfig) Sanitize() {
	if m.LockTTL < 10*time.Second {
		m.LockTTL = 10 * time.Second
	}
	if m.LockTTL > 5*time.Minute {
		m.LockTTL = 5 * time.Minute
	}
	if m.FetchTimeout <= 0 {
		m.FetchTimeout = 45 * time.Second
	}
	if m.MaxBytes <= 0 {
		m.MaxBytes = 100 << 20
	}

	hosts := make([]string, 0, len(m.AllowedHosts))
	for _, h := range m.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	m.AllowedHosts = hosts

	exts := make([]string, 0, len(m.AllowedExtensions))
	for _, e := range m.AllowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	m.AllowedExtensions = exts

	m.StorageBaseURL = strings.TrimRight(strings.TrimSpace(m.StorageBaseURL), "/")
}

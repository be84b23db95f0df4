package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	t.Run("single service", func(t *testing.T) {
		services, err := ParseServices("http")
		require.NoError(t, err)
		assert.True(t, services[ServiceModeHTTP])
		assert.False(t, services[ServiceModeMonitor])
	})

	t.Run("multiple services with whitespace", func(t *testing.T) {
		services, err := ParseServices(" http , monitor ,reaper")
		require.NoError(t, err)
		assert.True(t, services[ServiceModeHTTP])
		assert.True(t, services[ServiceModeMonitor])
		assert.True(t, services[ServiceModeReaper])
	})

	t.Run("empty string", func(t *testing.T) {
		_, err := ParseServices("")
		assert.Error(t, err)
	})

	t.Run("only separators", func(t *testing.T) {
		_, err := ParseServices(" , ,")
		assert.Error(t, err)
	})

	t.Run("invalid service name", func(t *testing.T) {
		_, err := ParseServices("http,websocket")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "websocket")
	})
}

func TestAppConfig_ServiceFlags(t *testing.T) {
	cfg := AppConfig{Services: "monitor,reaper"}
	assert.False(t, cfg.IsHTTPServerEnabled())
	assert.True(t, cfg.IsMonitorEnabled())
	assert.True(t, cfg.IsReaperEnabled())

	bad := AppConfig{Services: "bogus"}
	assert.False(t, bad.IsHTTPServerEnabled())
}

func TestMonitorConfig_Sanitize(t *testing.T) {
	cfg := MonitorConfig{
		CleanupInterval: time.Second,
		Retention:       time.Minute,
		SyncInterval:    time.Millisecond,
	}
	cfg.Sanitize()

	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, time.Second, cfg.SyncInterval)
	assert.Equal(t, time.Hour, cfg.RecoveryWindow)
	assert.Equal(t, 3*time.Minute, cfg.ExpectedDuration)
}

func TestRetryConfig_Sanitize(t *testing.T) {
	t.Run("defaults zero values", func(t *testing.T) {
		cfg := RetryConfig{}
		cfg.Sanitize()

		assert.Equal(t, 1, cfg.MaxAttempts)
		assert.Equal(t, time.Second, cfg.BaseDelay)
		assert.Equal(t, time.Second, cfg.MaxDelay)
		assert.Equal(t, float64(2), cfg.BackoffFactor)
	})

	t.Run("max delay never undercuts base delay", func(t *testing.T) {
		cfg := RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: time.Second, BackoffFactor: 2}
		cfg.Sanitize()
		assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	})
}

func TestMaterializeConfig_Sanitize(t *testing.T) {
	cfg := MaterializeConfig{
		LockTTL:           time.Second,
		AllowedHosts:      []string{" CDN.Example.com ", "", "audio.example.org"},
		AllowedExtensions: []string{"mp3", " .WAV", ""},
		StorageBaseURL:    "http://files.test/audio/// ",
	}
	cfg.Sanitize()

	assert.Equal(t, 10*time.Second, cfg.LockTTL, "lock ttl clamps to its floor")
	assert.Equal(t, 45*time.Second, cfg.FetchTimeout)
	assert.Equal(t, int64(100<<20), cfg.MaxBytes)
	assert.Equal(t, []string{"cdn.example.com", "audio.example.org"}, cfg.AllowedHosts)
	assert.Equal(t, []string{".mp3", ".wav"}, cfg.AllowedExtensions)
	assert.Equal(t, "http://files.test/audio", cfg.StorageBaseURL)

	long := MaterializeConfig{LockTTL: time.Hour}
	long.Sanitize()
	assert.Equal(t, 5*time.Minute, long.LockTTL, "lock ttl clamps to its ceiling")
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:          time.Second,
		ProcessingTimeout: time.Minute,
		BatchSize:         0,
	}
	cfg.Sanitize()

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 720*time.Hour, cfg.CompletedMaxAge)
	assert.Equal(t, 168*time.Hour, cfg.FailedMaxAge)
	assert.Equal(t, 1, cfg.BatchSize)
}

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/service"
)

func TestNewStatusClient_RequiresBaseURL(t *testing.T) {
	_, err := NewStatusClient(config.ProviderConfig{}, nil)
	assert.Error(t, err)
}

func TestStatusClient_TaskStatus(t *testing.T) {
	ctx := context.Background()

	newClient := func(t *testing.T, handler http.HandlerFunc) *StatusClient {
		t.Helper()
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)

		client, err := NewStatusClient(config.ProviderConfig{
			StatusBaseURL: srv.URL,
			Timeout:       5 * time.Second,
			APIKey:        "secret-key",
		}, nil)
		require.NoError(t, err)
		return client
	}

	t.Run("hits the per-service task endpoint with auth", func(t *testing.T) {
		var gotPath, gotAuth string
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{"status":"completed"}`))
		})

		state, err := client.TaskStatus(ctx, "providerA", "task-1")
		require.NoError(t, err)
		assert.Equal(t, service.ProviderStateCompleted, state)
		assert.Equal(t, "/providerA/tasks/task-1/status", gotPath)
		assert.Equal(t, "Bearer secret-key", gotAuth)
	})

	t.Run("non-200 collapses to unknown without error", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		state, err := client.TaskStatus(ctx, "providerA", "task-1")
		require.NoError(t, err)
		assert.Equal(t, service.ProviderStateUnknown, state)
	})

	t.Run("malformed payload is an error", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		})

		state, err := client.TaskStatus(ctx, "providerA", "task-1")
		require.Error(t, err)
		assert.Equal(t, service.ProviderStateUnknown, state)
	})
}

func TestNormalizeState(t *testing.T) {
	cases := []struct {
		raw  string
		want service.ProviderState
	}{
		{"completed", service.ProviderStateCompleted},
		{"SUCCESS", service.ProviderStateCompleted},
		{" succeeded ", service.ProviderStateCompleted},
		{"processing", service.ProviderStateProcessing},
		{"queued", service.ProviderStateProcessing},
		{"in_progress", service.ProviderStateProcessing},
		{"failed", service.ProviderStateFailed},
		{"cancelled", service.ProviderStateFailed},
		{"canceled", service.ProviderStateFailed},
		{"", service.ProviderStateUnknown},
		{"weird", service.ProviderStateUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeState(tc.raw), "raw %q", tc.raw)
	}
}

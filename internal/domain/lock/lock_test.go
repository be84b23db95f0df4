package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReleaser struct {
	key    string
	token  string
	result bool
	err    error
	calls  int
}

func (r *recordingReleaser) Release(ctx context.Context, key, token string) (bool, error) {
	r.calls++
	r.key = key
	r.token = token
	return r.result, r.err
}

func TestMaterializeKey(t *testing.T) {
	assert.Equal(t, "materialize:gen-1", MaterializeKey("gen-1"))
}

func TestLease_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("passes key and token to the releaser", func(t *testing.T) {
		releaser := &recordingReleaser{result: true}
		lease := NewLease("materialize:gen-1", "token-1", time.Minute, releaser)

		released, err := lease.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
		assert.Equal(t, "materialize:gen-1", releaser.key)
		assert.Equal(t, "token-1", releaser.token)
	})

	t.Run("expired lease reports not released", func(t *testing.T) {
		releaser := &recordingReleaser{result: false}
		lease := NewLease("k", "t", time.Minute, releaser)

		released, err := lease.Release(ctx)
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("nil lease and nil releaser are safe", func(t *testing.T) {
		var lease *Lease
		released, err := lease.Release(ctx)
		require.NoError(t, err)
		assert.False(t, released)

		released, err = (&Lease{}).Release(ctx)
		require.NoError(t, err)
		assert.False(t, released)
	})
}

package blobfs

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Put(t *testing.T) {
	t.Run("writes and reads back", func(t *testing.T) {
		store := New(t.TempDir(), "http://files.test/audio")

		n, err := store.Put("owner-1/providerA/gen-1/song.mp3", strings.NewReader("audio-bytes"))
		require.NoError(t, err)
		assert.Equal(t, int64(len("audio-bytes")), n)
		assert.True(t, store.Exists("owner-1/providerA/gen-1/song.mp3"))

		f, err := store.Open("owner-1/providerA/gen-1/song.mp3")
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "audio-bytes", string(data))
	})

	t.Run("second write to the same path fails", func(t *testing.T) {
		store := New(t.TempDir(), "http://files.test/audio")

		_, err := store.Put("gen-1/song.mp3", strings.NewReader("first"))
		require.NoError(t, err)

		_, err = store.Put("gen-1/song.mp3", strings.NewReader("second"))
		require.ErrorIs(t, err, ErrObjectExists)

		// The original object is untouched.
		f, err := store.Open("gen-1/song.mp3")
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
	})

	t.Run("rejects an empty path", func(t *testing.T) {
		store := New(t.TempDir(), "http://files.test/audio")
		_, err := store.Put("", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("traversal stays inside the root", func(t *testing.T) {
		root := t.TempDir()
		store := New(root, "http://files.test/audio")

		_, err := store.Put("../../escape.mp3", strings.NewReader("x"))
		require.NoError(t, err)
		assert.True(t, store.Exists("escape.mp3"), "dot-dot segments must collapse inside the root")
	})

	t.Run("failed write leaves nothing behind", func(t *testing.T) {
		store := New(t.TempDir(), "http://files.test/audio")

		_, err := store.Put("gen-1/song.mp3", failingReader{})
		require.Error(t, err)
		assert.False(t, store.Exists("gen-1/song.mp3"))

		// The path is free for a retry.
		_, err = store.Put("gen-1/song.mp3", strings.NewReader("retry"))
		assert.NoError(t, err)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, assert.AnError
}

func TestStore_PublicURL(t *testing.T) {
	store := New(t.TempDir(), "http://files.test/audio///")

	assert.Equal(t,
		"http://files.test/audio/owner-1/gen-1/song.mp3",
		store.PublicURL("owner-1/gen-1/song.mp3"))
	assert.Equal(t,
		"http://files.test/audio/song.mp3",
		store.PublicURL("/song.mp3"))
}

func TestStore_Exists(t *testing.T) {
	store := New(t.TempDir(), "http://files.test/audio")
	assert.False(t, store.Exists("nope.mp3"))
	assert.False(t, store.Exists(""))
}

package urlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soundloom/soundloom/internal/errors"
)

func testChecker() *Checker {
	return New(
		[]string{"cdn.example.com", "Audio.Example.ORG "},
		[]string{".mp3", "wav"},
	)
}

func TestChecker_Validate(t *testing.T) {
	c := testChecker()

	t.Run("accepts an allow-listed https media url", func(t *testing.T) {
		u, err := c.Validate("https://cdn.example.com/tracks/song.mp3")
		require.NoError(t, err)
		assert.Equal(t, "cdn.example.com", u.Hostname())
	})

	t.Run("host and extension matching is case-insensitive", func(t *testing.T) {
		_, err := c.Validate("https://AUDIO.example.org/a/B.WAV")
		assert.NoError(t, err)
	})

	t.Run("extensions normalize with or without a leading dot", func(t *testing.T) {
		_, err := c.Validate("https://cdn.example.com/x.wav")
		assert.NoError(t, err)
	})

	t.Run("rejects plain http", func(t *testing.T) {
		_, err := c.Validate("http://cdn.example.com/tracks/song.mp3")
		require.Error(t, err)
		assert.True(t, apperrors.IsSecurity(err))
	})

	t.Run("rejects an unlisted host", func(t *testing.T) {
		_, err := c.Validate("https://evil.example.net/tracks/song.mp3")
		require.Error(t, err)
		assert.True(t, apperrors.IsSecurity(err))
	})

	t.Run("rejects a non-media extension", func(t *testing.T) {
		_, err := c.Validate("https://cdn.example.com/tracks/notes.txt")
		require.Error(t, err)
		assert.True(t, apperrors.IsSecurity(err))
	})

	t.Run("rejects a path with no extension", func(t *testing.T) {
		_, err := c.Validate("https://cdn.example.com/tracks/song")
		require.Error(t, err)
		assert.True(t, apperrors.IsSecurity(err))
	})

	t.Run("rejects an empty url", func(t *testing.T) {
		_, err := c.Validate("   ")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects an unparsable url", func(t *testing.T) {
		_, err := c.Validate("https://cdn.example.com/%zz.mp3")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejection messages never echo the url", func(t *testing.T) {
		_, err := c.Validate("https://evil.example.net/secret-token.mp3")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "evil.example.net")
		assert.NotContains(t, err.Error(), "secret-token")
	})
}

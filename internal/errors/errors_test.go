package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		assert.Equal(t, "bad input", Validation("bad input").Error())
	})

	t.Run("message with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Network("fetch artifact", cause)
		assert.Equal(t, "fetch artifact: connection refused", err.Error())
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("row not found")
	err := Wrap(cause, ErrCodeStorage, "load generation")

	assert.ErrorIs(t, err, cause)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrCodeStorage, appErr.Code)
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"validation", Validation("x"), IsValidation},
		{"auth", Auth("x"), IsAuth},
		{"forbidden", Forbidden("x"), IsForbidden},
		{"security", Security("x"), IsSecurity},
		{"not found", NotFound("x"), IsNotFound},
		{"conflict", Conflict("x"), IsConflict},
		{"network", Network("x", nil), IsNetwork},
		{"storage", Storage("x", nil), IsStorage},
		{"transaction", Transaction("x", nil), IsTransaction},
		{"timeout", Timeout("x"), IsTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.pred(tc.err))
			assert.False(t, tc.pred(errors.New("plain")))
		})
	}
}

func TestPredicates_WrappedChain(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("generation not found"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", Network("dial", nil), true},
		{"rate limit", RateLimit("slow down"), true},
		{"unavailable", Unavailable("lease store down"), true},
		{"timeout", Timeout("deadline"), true},
		{"validation", Validation("bad"), false},
		{"auth", Auth("who"), false},
		{"storage", Storage("disk", nil), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}

	t.Run("outer code decides for nested app errors", func(t *testing.T) {
		// A retryable cause behind a non-retryable code stays non-retryable.
		err := Wrap(Network("dial", nil), ErrCodeStorage, "persist")
		assert.False(t, IsRetryable(err))
	})

	t.Run("wrapping with fmt keeps the code", func(t *testing.T) {
		err := fmt.Errorf("attempt 2: %w", Timeout("deadline"))
		assert.True(t, IsRetryable(err))
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeConflict, GetCode(Conflict("dup")))
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetCode(nil))
}

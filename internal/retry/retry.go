// Package retry provides the exponential-backoff executor and per-generation
// error history used to drive transient-failure recovery.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/domain/model"
	apperrors "github.com/soundloom/soundloom/internal/errors"
	"github.com/soundloom/soundloom/internal/observability/statsd"
)

// Target names the (generation, stage) pair an operation belongs to. Error
// history and attempt counting are scoped per target.
type Target struct {
	GenerationID string
	Stage        string
}

func (t Target) key() string {
	return t.GenerationID + "/" + t.Stage
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// EngineOptions groups dependencies for Engine.
type EngineOptions struct {
	Config  config.RetryConfig // Required: retry policy
	Logger  *slog.Logger       // Optional: structured logger
	Metrics statsd.Sink        // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time   // Optional: clock override for tests
	Sleep   func(ctx context.Context, d time.Duration) error // Optional: sleep override for tests
}

// Engine executes operations under a bounded retry policy and keeps an
// append-only error history per target. Safe for concurrent use.
type Engine struct {
	cfg     config.RetryConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	history map[string][]model.ErrorContext
}

// NewEngine constructs an Engine with the given policy.
func NewEngine(opts EngineOptions) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "retry_engine")
		logger.Debug("Engine initialized",
			"max_attempts", opts.Config.MaxAttempts,
			"base_delay", opts.Config.BaseDelay,
			"max_delay", opts.Config.MaxDelay,
			"backoff_factor", opts.Config.BackoffFactor,
		)
	}

	return &Engine{
		cfg:     opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
		sleep:   sleep,
		history: make(map[string][]model.ErrorContext),
	}
}

// RecordError appends a failed attempt to the target's history.
func (e *Engine) RecordError(target Target, attempt int, err error) {
	if err == nil {
		return
	}

	entry := model.ErrorContext{
		GenerationID: target.GenerationID,
		Stage:        target.Stage,
		Attempt:      attempt,
		Err:          err,
		Message:      err.Error(),
		Timestamp:    e.now().UTC(),
	}

	e.mu.Lock()
	e.history[target.key()] = append(e.history[target.key()], entry)
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Debug("attempt failed",
			"generation_id", target.GenerationID,
			"stage", target.Stage,
			"attempt", attempt,
			"error", err,
		)
	}
}

// History returns a copy of the recorded error history for a target.
func (e *Engine) History(target Target) []model.ErrorContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.history[target.key()]
	out := make([]model.ErrorContext, len(entries))
	copy(out, entries)
	return out
}

// Attempts returns how many failed attempts are recorded for a target.
func (e *Engine) Attempts(target Target) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[target.key()])
}

// CanRetry reports whether the target's recorded attempts are below the policy maximum.
func (e *Engine) CanRetry(target Target) bool {
	return e.Attempts(target) < e.cfg.MaxAttempts
}

// Forget drops a target's error history, e.g. after eventual success.
func (e *Engine) Forget(target Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, target.key())
}

// Delay computes the backoff before the attempt following attemptCount
// failures: min(base * factor^attemptCount, max) plus up to 10% uniform
// jitter, always added so synchronized callers spread out instead of
// retrying early together.
func (e *Engine) Delay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}

	base := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.BackoffFactor, float64(attemptCount))
	capped := math.Min(base, float64(e.cfg.MaxDelay))
	jitter := rand.Float64() * 0.1 * capped //nolint:gosec // jitter intentionally uses non-crypto rand

	return time.Duration(capped + jitter)
}

// DelayFor computes the backoff for a target from its recorded history.
func (e *Engine) DelayFor(target Target) time.Duration {
	return e.Delay(e.Attempts(target))
}

// IsRetryable reports whether an error belongs to the closed set of transient
// error kinds. Classification is by error code, never by message text.
func (e *Engine) IsRetryable(err error) bool {
	return apperrors.IsRetryable(err)
}

// Execute runs the operation up to MaxAttempts times. Each failure is
// recorded; a non-retryable error or exhausted policy raises the last
// attempt's error immediately. The loop checks for cancellation before every
// attempt and during the backoff sleep, so a caller can abort an in-flight
// retry sequence.
func (e *Engine) Execute(ctx context.Context, target Target, op Operation) error {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}

		start := e.now()
		err := op(ctx)
		if err == nil {
			e.emitAttempt(target, e.now().Sub(start), nil)
			return nil
		}

		lastErr = err
		e.RecordError(target, attempt, err)
		e.emitAttempt(target, e.now().Sub(start), err)

		if !e.IsRetryable(err) {
			if e.logger != nil {
				e.logger.Debug("error is not retryable, giving up",
					"generation_id", target.GenerationID,
					"stage", target.Stage,
					"attempt", attempt,
					"error", err,
				)
			}
			return err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.Delay(attempt - 1)
		if e.logger != nil {
			e.logger.Debug("backing off before retry",
				"generation_id", target.GenerationID,
				"stage", target.Stage,
				"attempt", attempt,
				"delay", delay,
			)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}

	return lastErr
}

func (e *Engine) emitAttempt(target Target, elapsed time.Duration, err error) {
	if e.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	tags := map[string]string{
		"stage":  target.Stage,
		"result": result,
	}
	e.metrics.Count("retry.attempt", 1, tags)
	if elapsed > 0 {
		e.metrics.Timing("retry.attempt_duration", elapsed, tags)
	}
}

// sleepContext blocks for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

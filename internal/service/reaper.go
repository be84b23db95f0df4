package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/data"
	"github.com/soundloom/soundloom/internal/domain/model"
	"github.com/soundloom/soundloom/internal/observability/statsd"
)

// ProviderState is the provider's view of a generation task.
type ProviderState string

const (
	ProviderStateCompleted  ProviderState = "completed"
	ProviderStateProcessing ProviderState = "processing"
	ProviderStateFailed     ProviderState = "failed"
	// ProviderStateUnknown covers inconclusive answers: unrecognized task ids,
	// empty payloads, or provider responses that cannot be classified.
	ProviderStateUnknown ProviderState = "unknown"
)

// ProviderStatusClient queries an external provider for the true status of a
// generation task.
type ProviderStatusClient interface {
	TaskStatus(ctx context.Context, service, taskID string) (ProviderState, error)
}

// ReaperStore is the durable generation store consumed by the reaper.
type ReaperStore interface {
	FindStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Generation, error)
	UpdateStatus(ctx context.Context, id string, status model.GenerationStatus, errMsg *string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	DeleteOldByStatus(ctx context.Context, status model.GenerationStatus, maxAge time.Duration, batchSize int) (int64, error)
}

// ReaperOptions contains dependencies for constructing a Reaper.
type ReaperOptions struct {
	Store    ReaperStore
	Provider ProviderStatusClient
	Config   config.ReaperConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Now      func() time.Time
}

// Reaper resolves generations stuck in processing and prunes old terminal
// rows. A generation stuck beyond the processing timeout has its provider
// queried for the true task status; an inconclusive answer fails the
// generation with a timeout-kind message.
type Reaper struct {
	store    ReaperStore
	provider ProviderStatusClient
	cfg      config.ReaperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// NewReaper creates a Reaper from options.
func NewReaper(opts ReaperOptions) (*Reaper, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Reaper{
		store:    opts.Store,
		provider: opts.Provider,
		cfg:      opts.Config,
		logger:   logger.With("component", "reaper"),
		metrics:  opts.Metrics,
		now:      now,
	}, nil
}

// Run sweeps at the configured interval until the context is cancelled.
// The first tick is jittered so multiple instances do not sweep in lockstep.
// Returns nil on graceful shutdown.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper loop",
		"interval", r.cfg.Interval, "processing_timeout", r.cfg.ProcessingTimeout)

	jitter := time.Duration(rand.Int64N(int64(r.cfg.Interval) / 2))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-timer.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.logger.WarnContext(ctx, "reaper sweep failed", "error", err)
			}
			timer.Reset(r.cfg.Interval)
		}
	}
}

// SweepOnce runs one full sweep: resolve stuck generations, then prune old
// terminal rows. Partial failures are joined so one bad row does not stop the
// rest of the sweep.
func (r *Reaper) SweepOnce(ctx context.Context) error {
	var errs []error

	if err := r.resolveStuck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("resolve stuck generations: %w", err))
	}
	if err := r.pruneTerminal(ctx); err != nil {
		errs = append(errs, fmt.Errorf("prune terminal generations: %w", err))
	}

	return errors.Join(errs...)
}

func (r *Reaper) resolveStuck(ctx context.Context) error {
	stuck, err := r.store.FindStuckProcessing(ctx, r.cfg.ProcessingTimeout, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "found stuck generations", "count", len(stuck))
	r.count("reaper.stuck_found", int64(len(stuck)), nil)

	var errs []error
	for _, gen := range stuck {
		if err := r.resolveOne(ctx, gen); err != nil {
			errs = append(errs, fmt.Errorf("generation %s: %w", gen.ID, err))
		}
	}
	return errors.Join(errs...)
}

// resolveOne reconciles a single stuck generation against the provider. The
// provider answer decides the outcome; anything inconclusive fails the
// generation with a timeout message so it stops occupying the in-flight set.
func (r *Reaper) resolveOne(ctx context.Context, gen *model.Generation) error {
	state := r.queryProvider(ctx, gen)

	switch state {
	case ProviderStateCompleted:
		updated, err := r.store.UpdateStatus(ctx, gen.ID, model.GenerationStatusCompleted, nil)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if updated {
			r.logger.InfoContext(ctx, "reconciled stuck generation from provider",
				"generation_id", gen.ID, "provider_state", state)
			r.count("reaper.reconciled", 1, map[string]string{"outcome": "completed"})
		}
		return nil

	case ProviderStateProcessing:
		// Still legitimately in flight; leave it for a later sweep.
		r.count("reaper.reconciled", 1, map[string]string{"outcome": "still_processing"})
		return nil

	case ProviderStateFailed:
		return r.fail(ctx, gen, "provider reported task failure", "failed")

	default:
		msg := fmt.Sprintf("generation timed out after %s in processing with no conclusive provider status",
			r.cfg.ProcessingTimeout)
		return r.fail(ctx, gen, msg, "timeout")
	}
}

// queryProvider asks the provider for the task's true state. Missing task ids,
// a missing client, and query errors all collapse to unknown.
func (r *Reaper) queryProvider(ctx context.Context, gen *model.Generation) ProviderState {
	if r.provider == nil || gen.TaskID == nil || *gen.TaskID == "" {
		return ProviderStateUnknown
	}

	state, err := r.provider.TaskStatus(ctx, gen.Service, *gen.TaskID)
	if err != nil {
		r.logger.WarnContext(ctx, "provider status query failed",
			"generation_id", gen.ID, "error", err)
		return ProviderStateUnknown
	}
	return state
}

func (r *Reaper) fail(ctx context.Context, gen *model.Generation, msg, outcome string) error {
	failed, err := r.store.Fail(ctx, gen.ID, msg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !failed {
		// Someone else drove it terminal between the stuck query and now.
		return nil
	}

	r.logger.InfoContext(ctx, "failed stuck generation",
		"generation_id", gen.ID, "reason", outcome)
	r.count("reaper.reconciled", 1, map[string]string{"outcome": outcome})
	return nil
}

func (r *Reaper) pruneTerminal(ctx context.Context) error {
	var errs []error

	for _, p := range []struct {
		status model.GenerationStatus
		maxAge time.Duration
	}{
		{model.GenerationStatusCompleted, r.cfg.CompletedMaxAge},
		{model.GenerationStatusFailed, r.cfg.FailedMaxAge},
	} {
		deleted, err := r.store.DeleteOldByStatus(ctx, p.status, p.maxAge, r.cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete old %s generations: %w", p.status, err))
			continue
		}
		if deleted > 0 {
			r.logger.InfoContext(ctx, "pruned old generations",
				"status", p.status, "count", deleted)
			r.count("reaper.pruned", deleted, map[string]string{"status": string(p.status)})
		}
	}

	return errors.Join(errs...)
}

func (r *Reaper) count(name string, value int64, tags map[string]string) {
	if r.metrics != nil {
		r.metrics.Count(name, value, tags)
	}
}

var _ ReaperStore = (*data.GenerationRepo)(nil)

package monitor

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/soundloom/soundloom/internal/domain/model"
)

// RunCleanup sweeps terminal generations out of memory at the configured
// interval until the context is cancelled. Returns nil on graceful shutdown.
func (m *Monitor) RunCleanup(ctx context.Context) error {
	if m.logger != nil {
		m.logger.InfoContext(ctx, "starting monitor cleanup loop", "interval", m.cfg.CleanupInterval)
	}

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			removed := m.CleanupOnce()
			if removed > 0 && m.logger != nil {
				m.logger.InfoContext(ctx, "cleaned up terminal generations", "count", removed)
			}
		}
	}
}

// CleanupOnce removes terminal generations whose last update is older than the
// retention window, together with their orphaned subscriber lists. Returns the
// number of generations removed.
func (m *Monitor) CleanupOnce() int {
	cutoff := m.now().UTC().Add(-m.cfg.Retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, gen := range m.generations {
		if gen.Status.Terminal() && gen.UpdatedAt.Before(cutoff) {
			delete(m.generations, id)
			delete(m.subscribers, id)
			removed++
		}
	}

	if m.metrics != nil && removed > 0 {
		m.metrics.Count("monitor.cleanup_removed", int64(removed), nil)
	}
	return removed
}

// RunSync reconciles active generations against the durable store at the
// configured interval until the context is cancelled. Another process (or the
// reaper) may have driven a generation to a terminal state; the local view
// follows within one sync period.
func (m *Monitor) RunSync(ctx context.Context) error {
	if m.store == nil {
		<-ctx.Done()
		return nil
	}

	if m.logger != nil {
		m.logger.InfoContext(ctx, "starting monitor sync loop", "interval", m.cfg.SyncInterval)
	}

	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := m.SyncOnce(ctx); err != nil && m.logger != nil {
				m.logger.WarnContext(ctx, "monitor sync failed", "error", err)
			}
		}
	}
}

// SyncOnce re-reads durable status for every active tracked generation and
// reconciles local state when the store already shows a terminal outcome.
func (m *Monitor) SyncOnce(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	var errs []error
	for _, active := range m.GetActive() {
		durable, err := m.store.GetByID(ctx, active.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !durable.Status.Terminal() {
			continue
		}

		switch durable.Status {
		case model.GenerationStatusCompleted:
			m.Complete(ctx, active.ID)
		case model.GenerationStatusFailed:
			msg := "generation failed"
			if durable.LastError != nil {
				msg = *durable.LastError
			}
			m.failLocally(ctx, active.ID, msg)
		}

		if m.logger != nil {
			m.logger.InfoContext(ctx, "reconciled generation from durable store",
				"generation_id", active.ID, "status", durable.Status)
		}
	}

	return errors.Join(errs...)
}

// failLocally transitions a tracked generation to failed without writing back
// to the store (the store already holds the terminal state).
func (m *Monitor) failLocally(ctx context.Context, id, message string) {
	m.mu.Lock()
	gen, ok := m.generations[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	now := m.now().UTC()
	if stage := gen.StageByID(gen.CurrentStage); stage != nil && !stage.Status.Terminal() {
		stage.Status = model.StageStatusError
		stage.ErrorMessage = message
		t := now
		stage.EndTime = &t
	}
	gen.Status = model.GenerationStatusFailed
	gen.LastError = &message
	gen.UpdatedAt = now
	snapshot := gen.Clone()
	m.mu.Unlock()

	m.notify(ctx, snapshot)
	m.emitTransition(snapshot.Service, "sync_failed", nil)
}

// Recover loads durable generations still in flight within the recovery
// window and reconstructs tracked state for each. In-flight progress is
// estimated from elapsed wall-clock time against the expected duration; the
// estimate is a UI signal only and never drives stage re-runs.
func (m *Monitor) Recover(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}

	rows, err := m.store.ListRecoverable(ctx, m.cfg.RecoveryWindow, 500)
	if err != nil {
		return 0, err
	}

	recovered := 0
	now := m.now().UTC()
	m.mu.Lock()
	for _, gen := range rows {
		if _, exists := m.generations[gen.ID]; exists {
			continue
		}

		restored := gen.Clone()
		if len(restored.Stages) == 0 {
			restored.Stages = model.NewStages()
		}
		if restored.Status == model.GenerationStatusProcessing {
			m.estimateRecoveredProgress(restored, now)
		}
		m.generations[restored.ID] = restored
		recovered++
	}
	m.mu.Unlock()

	if recovered > 0 && m.logger != nil {
		m.logger.InfoContext(ctx, "recovered in-flight generations",
			"count", recovered, "window", m.cfg.RecoveryWindow)
	}
	return recovered, nil
}

// estimateRecoveredProgress approximates progress for a recovered processing
// generation from elapsed time. Completed-stage progress is authoritative; the
// estimate only ever raises the displayed value, capped below 100.
func (m *Monitor) estimateRecoveredProgress(gen *model.Generation, now time.Time) {
	elapsed := now.Sub(gen.CreatedAt)
	if elapsed <= 0 || m.cfg.ExpectedDuration <= 0 {
		return
	}

	estimate := int(math.Round(95 * math.Min(1, elapsed.Seconds()/m.cfg.ExpectedDuration.Seconds())))
	derived := gen.ComputeProgress()
	if estimate > derived {
		gen.OverallProgress = estimate
	} else {
		gen.OverallProgress = derived
	}

	if stage := gen.StageByID(gen.CurrentStage); stage != nil && stage.Status == model.StageStatusRunning {
		if estimate > stage.Progress {
			stage.Progress = estimate
		}
	}
}

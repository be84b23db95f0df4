// Package monitor tracks the in-memory lifecycle of generations: stage
// progression, derived status and progress, subscriber fan-out, periodic
// reconciliation against the durable store, and startup recovery.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/domain/model"
	"github.com/soundloom/soundloom/internal/observability/metrics"
	"github.com/soundloom/soundloom/internal/observability/statsd"
)

// Store is the durable mirror the monitor reconciles against. All methods are
// read/write on the generations table only.
type Store interface {
	Create(ctx context.Context, req *model.CreateGenerationRequest) (*model.Generation, error)
	GetByID(ctx context.Context, id string) (*model.Generation, error)
	SaveSnapshot(ctx context.Context, gen *model.Generation) error
	ListRecoverable(ctx context.Context, window time.Duration, limit int) ([]*model.Generation, error)
}

// Callback receives a snapshot of a generation after every state change.
type Callback func(*model.Generation)

// Options groups dependencies for Monitor.
type Options struct {
	Store   Store                // Optional: durable mirror for snapshots, sync and recovery
	Config  config.MonitorConfig // Required: monitor configuration
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time     // Optional: clock override for tests
}

// Monitor owns the tracked generation map and subscriber lists. All state is
// held on the struct and guarded by a single mutex; construct one per process
// and pass it by reference.
type Monitor struct {
	store   Store
	cfg     config.MonitorConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time

	mu          sync.RWMutex
	generations map[string]*model.Generation
	subscribers map[string]map[int]Callback
	nextSubID   int
}

// ErrAlreadyTracked is returned when creating a generation whose id is already tracked.
var ErrAlreadyTracked = errors.New("generation already tracked")

// New constructs a Monitor.
func New(opts Options) *Monitor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "generation_monitor")
		logger.Debug("Monitor initialized",
			"cleanup_interval", opts.Config.CleanupInterval,
			"retention", opts.Config.Retention,
			"sync_interval", opts.Config.SyncInterval,
		)
	}

	return &Monitor{
		store:       opts.Store,
		cfg:         opts.Config,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         now,
		generations: make(map[string]*model.Generation),
		subscribers: make(map[string]map[int]Callback),
	}
}

// Create starts tracking a new generation with every stage pending.
// It fails only when the id is already tracked (caller error).
func (m *Monitor) Create(
	ctx context.Context,
	req *model.CreateGenerationRequest,
) (*model.Generation, error) {
	if req == nil {
		return nil, errors.New("create generation request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.generations[req.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, req.ID)
	}

	now := m.now().UTC()
	var metadata map[string]string
	if req.Metadata != nil {
		// Copy so later caller mutations cannot reach tracked state.
		metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			metadata[k] = v
		}
	}
	gen := &model.Generation{
		ID:        req.ID,
		TaskID:    req.TaskID,
		OwnerID:   req.OwnerID,
		Service:   req.Service,
		Status:    model.GenerationStatusPending,
		Stages:    model.NewStages(),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.generations[gen.ID] = gen
	snapshot := gen.Clone()
	m.mu.Unlock()

	if m.store != nil {
		if _, err := m.store.Create(ctx, req); err != nil && m.logger != nil {
			m.logger.WarnContext(ctx, "failed to persist new generation",
				"generation_id", req.ID, "error", err)
		}
	}

	if m.logger != nil {
		m.logger.DebugContext(ctx, "generation tracked",
			"generation_id", gen.ID, "service", gen.Service)
	}
	m.emitTransition(gen.Service, "create", nil)

	return snapshot, nil
}

// UpdateStage merges a partial update into the named stage, stamps start and
// end times, recomputes overall progress and derives the generation status.
// Unknown ids and stages are a no-op with a logged warning, as are updates to
// generations or stages already in a terminal state and running transitions
// that would overlap another running stage or skip an incomplete predecessor.
func (m *Monitor) UpdateStage(
	ctx context.Context,
	id, stageID string,
	update model.StageUpdate,
) {
	m.mu.Lock()
	gen, ok := m.generations[id]
	if !ok {
		m.mu.Unlock()
		m.warn(ctx, "stage update for unknown generation", "generation_id", id, "stage", stageID)
		return
	}

	// Terminal generations are immutable; late stage updates are dropped.
	if gen.Status.Terminal() {
		m.mu.Unlock()
		m.warn(ctx, "stage update for terminal generation dropped",
			"generation_id", id, "stage", stageID, "status", gen.Status)
		return
	}

	stage := gen.StageByID(stageID)
	if stage == nil {
		m.mu.Unlock()
		m.warn(ctx, "stage update for unknown stage", "generation_id", id, "stage", stageID)
		return
	}

	// Stages are terminal once completed or errored; a completed stage is
	// never un-completed.
	if stage.Status.Terminal() {
		m.mu.Unlock()
		m.warn(ctx, "stage update for terminal stage dropped",
			"generation_id", id, "stage", stageID, "stage_status", stage.Status)
		return
	}

	// At most one stage runs at a time, and only after every earlier stage
	// has completed.
	if update.Status != nil && *update.Status == model.StageStatusRunning {
		if blocker := runBlocker(gen, stage); blocker != "" {
			m.mu.Unlock()
			m.warn(ctx, "stage cannot start",
				"generation_id", id, "stage", stageID, "blocked_by", blocker)
			return
		}
	}

	now := m.now().UTC()
	m.applyStageUpdate(gen, stage, update, now)
	gen.OverallProgress = gen.ComputeProgress()
	gen.Status = gen.DeriveStatus()
	gen.UpdatedAt = now
	snapshot := gen.Clone()
	m.mu.Unlock()

	m.persistSnapshot(ctx, snapshot)
	m.notify(ctx, snapshot)
	m.emitTransition(snapshot.Service, "stage_"+stageID, nil)
}

// applyStageUpdate merges the partial into the stage. Caller holds the lock.
func (m *Monitor) applyStageUpdate(
	gen *model.Generation,
	stage *model.Stage,
	update model.StageUpdate,
	now time.Time,
) {
	if update.Progress != nil {
		stage.Progress = clampProgress(*update.Progress)
	}
	if update.ErrorMessage != nil {
		stage.ErrorMessage = *update.ErrorMessage
	}
	if update.Status == nil {
		return
	}

	switch *update.Status {
	case model.StageStatusRunning:
		stage.Status = model.StageStatusRunning
		if stage.StartTime == nil {
			t := now
			stage.StartTime = &t
		}
		gen.CurrentStage = stage.ID
	case model.StageStatusCompleted:
		stage.Status = model.StageStatusCompleted
		stage.Progress = 100
		t := now
		stage.EndTime = &t
	case model.StageStatusError:
		stage.Status = model.StageStatusError
		t := now
		stage.EndTime = &t
		if stage.ErrorMessage != "" {
			msg := stage.ErrorMessage
			gen.LastError = &msg
		}
	case model.StageStatusPending:
		stage.Status = model.StageStatusPending
	}
}

// runBlocker reports the stage preventing target from entering running:
// another stage still in flight, or an earlier stage not yet completed.
// Empty when the transition is allowed. Caller holds the lock.
func runBlocker(gen *model.Generation, target *model.Stage) string {
	before := true
	for i := range gen.Stages {
		s := &gen.Stages[i]
		if s.ID == target.ID {
			before = false
			continue
		}
		if s.Status == model.StageStatusRunning {
			return s.ID
		}
		if before && s.Status != model.StageStatusCompleted {
			return s.ID
		}
	}
	return ""
}

// SetError marks the stage errored with the given message and forces the
// generation into failed status.
func (m *Monitor) SetError(ctx context.Context, id, stageID, message string) {
	status := model.StageStatusError
	m.UpdateStage(ctx, id, stageID, model.StageUpdate{
		Status:       &status,
		ErrorMessage: &message,
	})
}

// Complete force-marks all non-error stages completed, sets progress to 100
// and status to completed.
func (m *Monitor) Complete(ctx context.Context, id string) {
	m.mu.Lock()
	gen, ok := m.generations[id]
	if !ok {
		m.mu.Unlock()
		m.warn(ctx, "complete for unknown generation", "generation_id", id)
		return
	}

	now := m.now().UTC()
	for i := range gen.Stages {
		if gen.Stages[i].Status == model.StageStatusError {
			continue
		}
		if gen.Stages[i].Status != model.StageStatusCompleted {
			gen.Stages[i].Status = model.StageStatusCompleted
			gen.Stages[i].Progress = 100
			t := now
			gen.Stages[i].EndTime = &t
		}
	}
	gen.OverallProgress = 100
	gen.Status = model.GenerationStatusCompleted
	gen.CurrentStage = ""
	gen.UpdatedAt = now
	snapshot := gen.Clone()
	m.mu.Unlock()

	m.persistSnapshot(ctx, snapshot)
	m.notify(ctx, snapshot)
	m.emitTransition(snapshot.Service, "complete", nil)
}

// Get returns a snapshot of a tracked generation.
func (m *Monitor) Get(id string) (*model.Generation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gen, ok := m.generations[id]
	if !ok {
		return nil, false
	}
	return gen.Clone(), true
}

// GetActive returns snapshots of all generations still pending or processing.
func (m *Monitor) GetActive() []*model.Generation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Generation
	for _, gen := range m.generations {
		if !gen.Status.Terminal() {
			out = append(out, gen.Clone())
		}
	}
	return out
}

// Subscribe registers a callback invoked synchronously on every state change
// of the given generation. The returned function unsubscribes.
func (m *Monitor) Subscribe(id string, cb Callback) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribers[id] == nil {
		m.subscribers[id] = make(map[int]Callback)
	}
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[id][subID] = cb

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[id]
		if subs == nil {
			return
		}
		delete(subs, subID)
		if len(subs) == 0 {
			delete(m.subscribers, id)
		}
	}
}

// notify fans a snapshot out to subscribers. A panicking callback is caught
// and logged without affecting other callbacks or the mutator.
func (m *Monitor) notify(ctx context.Context, snapshot *model.Generation) {
	m.mu.RLock()
	subs := m.subscribers[snapshot.ID]
	callbacks := make([]Callback, 0, len(subs))
	for _, cb := range subs {
		callbacks = append(callbacks, cb)
	}
	m.mu.RUnlock()

	for _, cb := range callbacks {
		m.invoke(ctx, cb, snapshot)
	}
}

func (m *Monitor) invoke(ctx context.Context, cb Callback, snapshot *model.Generation) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.ErrorContext(ctx, "generation subscriber panicked",
				"generation_id", snapshot.ID, "panic", r)
		}
	}()
	cb(snapshot.Clone())
}

// persistSnapshot mirrors tracked state into the durable store, best-effort.
func (m *Monitor) persistSnapshot(ctx context.Context, snapshot *model.Generation) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSnapshot(ctx, snapshot); err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "failed to persist generation snapshot",
			"generation_id", snapshot.ID, "error", err)
	}
}

func (m *Monitor) warn(ctx context.Context, msg string, args ...any) {
	if m.logger != nil {
		m.logger.WarnContext(ctx, msg, args...)
	}
}

func (m *Monitor) emitTransition(service, transition string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitGenerationLifecycle(m.metrics, metrics.GenerationMetric{
		Service:    service,
		Transition: transition,
		Result:     result,
		Err:        err,
	})
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

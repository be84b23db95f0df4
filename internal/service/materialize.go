// Package service contains the request-scoped and background orchestration
// procedures built on top of the data and adapter layers.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/data"
	"github.com/soundloom/soundloom/internal/domain/lock"
	"github.com/soundloom/soundloom/internal/domain/model"
	apperrors "github.com/soundloom/soundloom/internal/errors"
	"github.com/soundloom/soundloom/internal/observability/statsd"
	"github.com/soundloom/soundloom/internal/retry"
	"github.com/soundloom/soundloom/internal/urlcheck"
)

// MaterializeStore is the durable generation store consumed by the pipeline.
type MaterializeStore interface {
	GetByID(ctx context.Context, id string) (*model.Generation, error)
	GetByTaskID(ctx context.Context, taskID string) (*model.Generation, error)
	MaterializedResult(ctx context.Context, generationID string) (*model.MaterializedResult, error)
	MarkMaterialized(ctx context.Context, p data.MarkMaterializedParams) (*model.MaterializedResult, error)
}

// BlobStore is the write-once object store consumed by the pipeline.
type BlobStore interface {
	Put(relPath string, r io.Reader) (int64, error)
	PublicURL(relPath string) string
}

// MaterializeRequest carries one materialization invocation. One of
// GenerationID or TaskID is required. CallerID identifies the authenticated
// caller and must match the generation's owner.
type MaterializeRequest struct {
	GenerationID string
	TaskID       string
	ExternalURL  string
	Filename     string
	CallerID     string
}

// MaterializeOutcome is the pipeline result. Duplicate is true when the call
// performed no new work, either because the generation was already
// materialized or because another execution currently holds the lease.
type MaterializeOutcome struct {
	Result    *model.MaterializedResult
	Duplicate bool
}

// MaterializerOptions contains dependencies for constructing a Materializer.
type MaterializerOptions struct {
	Store   MaterializeStore
	Blobs   BlobStore
	Locker  lock.Locker
	URLs    *urlcheck.Checker
	Client  *http.Client
	Retry   *retry.Engine
	Config  config.MaterializeConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
	Now     func() time.Time
}

// Materializer fetches a generation's remote artifact, writes it to the blob
// store at a collision-free path, and records the outcome transactionally. It
// holds no in-process state between invocations; mutual exclusion across
// instances comes entirely from the shared lease.
type Materializer struct {
	store   MaterializeStore
	blobs   BlobStore
	locker  lock.Locker
	urls    *urlcheck.Checker
	client  *http.Client
	retrier *retry.Engine
	cfg     config.MaterializeConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewMaterializer creates a Materializer from options.
func NewMaterializer(opts MaterializerOptions) (*Materializer, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.Locker == nil {
		return nil, errors.New("locker is required")
	}
	if opts.URLs == nil {
		return nil, errors.New("url checker is required")
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Config.FetchTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Materializer{
		store:   opts.Store,
		blobs:   opts.Blobs,
		locker:  opts.Locker,
		urls:    opts.URLs,
		client:  client,
		retrier: opts.Retry,
		cfg:     opts.Config,
		logger:  logger.With("component", "materializer"),
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Materialize runs the pipeline for one request. The lease is released on
// every exit path. A second invocation for an already-materialized generation
// returns the existing result unchanged with Duplicate set.
func (m *Materializer) Materialize(
	ctx context.Context,
	req MaterializeRequest,
) (*MaterializeOutcome, error) {
	if req.GenerationID == "" && req.TaskID == "" {
		return nil, apperrors.Validation("generationId or taskId is required")
	}
	if req.CallerID == "" {
		return nil, apperrors.Auth("caller identity is required")
	}

	srcURL, err := m.urls.Validate(req.ExternalURL)
	if err != nil {
		return nil, err
	}

	gen, err := m.resolveGeneration(ctx, req)
	if err != nil {
		return nil, err
	}

	lease, acquired, err := m.locker.Acquire(ctx, lock.MaterializeKey(gen.ID), m.cfg.LockTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "acquire materialization lease")
	}
	if !acquired {
		return m.duplicateOutcome(ctx, gen.ID)
	}
	defer func() {
		released, relErr := lease.Release(context.WithoutCancel(ctx))
		if relErr != nil {
			m.logger.Warn("lease release failed",
				"generation_id", gen.ID, "error", relErr)
		} else if !released {
			m.logger.Warn("lease expired before release", "generation_id", gen.ID)
		}
	}()

	if gen.OwnerID != req.CallerID {
		return nil, apperrors.Forbidden("generation belongs to a different owner")
	}

	// Idempotency check runs after lease acquisition so it cannot race a
	// concurrent writer between check and write.
	existing, err := m.store.MaterializedResult(ctx, gen.ID)
	if err == nil {
		m.count("materialize.duplicate", map[string]string{"reason": "already_materialized"})
		m.logger.Info("generation already materialized",
			"generation_id", gen.ID, "track_id", existing.TrackID)
		return &MaterializeOutcome{Result: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, data.ErrTrackNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorage, "check existing materialization")
	}

	body, err := m.fetchWithRetry(ctx, gen.ID, srcURL)
	if err != nil {
		m.count("materialize.error", map[string]string{"stage": "fetch"})
		return nil, err
	}

	storagePath := m.storagePath(gen, srcURL, req.Filename)
	size, err := m.blobs.Put(storagePath, bytes.NewReader(body))
	if err != nil {
		m.count("materialize.error", map[string]string{"stage": "store"})
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorage, "write artifact")
	}

	result, err := m.store.MarkMaterialized(ctx, data.MarkMaterializedParams{
		GenerationID: gen.ID,
		TrackID:      uuid.NewString(),
		OwnerID:      gen.OwnerID,
		StoragePath:  storagePath,
		PublicURL:    m.blobs.PublicURL(storagePath),
		ProviderURL:  srcURL.String(),
		ByteSize:     size,
	})
	if err != nil {
		m.count("materialize.error", map[string]string{"stage": "record"})
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransaction, "record materialization")
	}

	m.count("materialize.success", map[string]string{"service": gen.Service})
	m.logger.Info("generation materialized",
		"generation_id", gen.ID,
		"track_id", result.TrackID,
		"storage_path", result.StoragePath,
		"byte_size", result.ByteSize)

	return &MaterializeOutcome{Result: result}, nil
}

func (m *Materializer) resolveGeneration(
	ctx context.Context,
	req MaterializeRequest,
) (*model.Generation, error) {
	var (
		gen *model.Generation
		err error
	)
	if req.GenerationID != "" {
		gen, err = m.store.GetByID(ctx, req.GenerationID)
	} else {
		gen, err = m.store.GetByTaskID(ctx, req.TaskID)
	}
	if err != nil {
		if errors.Is(err, data.ErrGenerationNotFound) {
			return nil, apperrors.NotFound("generation not found")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorage, "load generation")
	}
	return gen, nil
}

// duplicateOutcome answers a call that lost the lease race. When the winner
// already finished, the existing result is returned; otherwise the outcome
// carries only the generation id.
func (m *Materializer) duplicateOutcome(
	ctx context.Context,
	generationID string,
) (*MaterializeOutcome, error) {
	m.count("materialize.duplicate", map[string]string{"reason": "lease_held"})
	m.logger.Info("materialization already in flight", "generation_id", generationID)

	existing, err := m.store.MaterializedResult(ctx, generationID)
	if err == nil {
		return &MaterializeOutcome{Result: existing, Duplicate: true}, nil
	}
	return &MaterializeOutcome{
		Result:    &model.MaterializedResult{GenerationID: generationID},
		Duplicate: true,
	}, nil
}

// fetchWithRetry runs the download under the retry engine when one is
// configured. Transient download failures back off and retry; validation
// failures such as an oversized artifact stop immediately.
func (m *Materializer) fetchWithRetry(
	ctx context.Context,
	generationID string,
	srcURL *url.URL,
) ([]byte, error) {
	if m.retrier == nil {
		return m.fetch(ctx, srcURL)
	}

	var body []byte
	target := retry.Target{GenerationID: generationID, Stage: "persist"}
	err := m.retrier.Execute(ctx, target, func(ctx context.Context) error {
		b, fetchErr := m.fetch(ctx, srcURL)
		if fetchErr != nil {
			return fetchErr
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// fetch downloads the artifact with a bounded timeout and size cap. Failures
// surface as network-kind errors so callers can classify them as retryable.
func (m *Materializer) fetch(ctx context.Context, srcURL *url.URL) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, srcURL.String(), nil)
	if err != nil {
		return nil, apperrors.Network("build artifact request", err)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Network("fetch artifact", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Network(
			fmt.Sprintf("fetch artifact: unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxBytes+1))
	if err != nil {
		return nil, apperrors.Network("read artifact body", err)
	}
	if int64(len(body)) > m.cfg.MaxBytes {
		return nil, apperrors.Validation(
			fmt.Sprintf("artifact exceeds %d byte limit", m.cfg.MaxBytes))
	}
	return body, nil
}

// storagePath builds a collision-free object path namespaced by owner,
// service, and generation id, with the filename disambiguated by a timestamp
// and random suffix.
func (m *Materializer) storagePath(
	gen *model.Generation,
	srcURL *url.URL,
	filenameHint string,
) string {
	name := strings.TrimSpace(filenameHint)
	if name == "" {
		name = path.Base(srcURL.Path)
	}
	name = sanitizeFilename(name)

	stamp := m.now().UTC().Format("20060102T150405")
	suffix := uuid.NewString()[:8]
	return path.Join(gen.OwnerID, gen.Service, gen.ID,
		fmt.Sprintf("%s-%s-%s", stamp, suffix, name))
}

func (m *Materializer) count(name string, tags map[string]string) {
	if m.metrics != nil {
		m.metrics.Count(name, 1, tags)
	}
}

// sanitizeFilename strips path separators and control characters from a
// caller-supplied filename hint.
func sanitizeFilename(name string) string {
	name = path.Base(name)
	if name == "." || name == "/" {
		return "artifact"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "artifact"
	}
	return b.String()
}

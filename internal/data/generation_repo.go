package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/soundloom/soundloom/internal/data/pgxutil"
	"github.com/soundloom/soundloom/internal/domain/model"
)

// RepoConfig holds configuration options for the generation repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// GenerationRepo provides database operations for generation tracking and
// materialization records.
type GenerationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewGenerationRepo creates a new GenerationRepo instance with the given database connection and configuration.
func NewGenerationRepo(db *sql.DB, cfg RepoConfig) *GenerationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &GenerationRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const generationColumns = `
  id,
  task_id,
  owner_id,
  service,
  status,
  stages,
  current_stage,
  overall_progress,
  metadata,
  last_error,
  created_at,
  updated_at
`

// Create inserts a new generation row with all stages pending.
func (r *GenerationRepo) Create(
	ctx context.Context,
	req *model.CreateGenerationRequest,
) (*model.Generation, error) {
	if req == nil {
		return nil, errors.New("create generation request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	stages := model.NewStages()
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return nil, fmt.Errorf("marshal stages: %w", err)
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO generations (id, task_id, owner_id, service, status, stages, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $7)
		RETURNING `+generationColumns,
		req.ID, req.TaskID, req.OwnerID, req.Service, stagesJSON, metaJSON, now)

	gen, err := scanGeneration(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrGenerationExists
		}
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	return gen, nil
}

// GetByID returns a generation by its id.
func (r *GenerationRepo) GetByID(ctx context.Context, id string) (*model.Generation, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1`, id)

	gen, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("get generation %s: %w", id, err)
	}
	return gen, nil
}

// GetByTaskID returns a generation by its provider task id.
func (r *GenerationRepo) GetByTaskID(ctx context.Context, taskID string) (*model.Generation, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE task_id = $1`, taskID)

	gen, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("get generation by task %s: %w", taskID, err)
	}
	return gen, nil
}

// SaveSnapshot persists the tracked in-memory state of a generation: status,
// stage list, current stage, progress and last error.
func (r *GenerationRepo) SaveSnapshot(ctx context.Context, gen *model.Generation) error {
	if gen == nil {
		return errors.New("generation is required")
	}

	stagesJSON, err := json.Marshal(gen.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	metaJSON, err := json.Marshal(gen.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE generations
		SET status = $2,
		    stages = $3,
		    current_stage = $4,
		    overall_progress = $5,
		    metadata = $6,
		    last_error = $7,
		    updated_at = $8
		WHERE id = $1`,
		gen.ID, gen.Status, stagesJSON, nullIfEmpty(gen.CurrentStage),
		gen.OverallProgress, metaJSON, gen.LastError, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("save generation snapshot %s: %w", gen.ID, err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrGenerationNotFound
	}
	return nil
}

// UpdateStatus sets the overall status (and optional error message) of a generation.
// Returns true when a row changed.
func (r *GenerationRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status model.GenerationStatus,
	errMsg *string,
) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid generation status: %q", status)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE generations
		SET status = $2,
		    last_error = COALESCE($3, last_error),
		    updated_at = $4
		WHERE id = $1`,
		id, status, errMsg, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update generation status %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Fail marks a generation failed with the given error message. Returns true
// when the row was still non-terminal and this call transitioned it.
func (r *GenerationRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE generations
		SET status = 'failed',
		    last_error = $2,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, errMsg, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("fail generation %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListActive returns generations still pending or processing, oldest first.
func (r *GenerationRepo) ListActive(ctx context.Context, limit int) ([]*model.Generation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+generationColumns+`
		FROM generations
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active generations: %w", err)
	}
	defer rows.Close()

	return collectGenerations(rows)
}

// ListRecoverable returns non-terminal generations created within the recovery
// window, used to rebuild monitor state on startup.
func (r *GenerationRepo) ListRecoverable(
	ctx context.Context,
	window time.Duration,
	limit int,
) ([]*model.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := r.timeProvider.Now().UTC().Add(-window)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+generationColumns+`
		FROM generations
		WHERE status IN ('pending', 'processing') AND created_at >= $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list recoverable generations: %w", err)
	}
	defer rows.Close()

	return collectGenerations(rows)
}

// FindStuckProcessing returns processing generations whose created_at exceeds
// the stuck threshold.
func (r *GenerationRepo) FindStuckProcessing(
	ctx context.Context,
	olderThan time.Duration,
	limit int,
) ([]*model.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := r.timeProvider.Now().UTC().Add(-olderThan)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+generationColumns+`
		FROM generations
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find stuck generations: %w", err)
	}
	defer rows.Close()

	return collectGenerations(rows)
}

// DeleteOldByStatus deletes terminal generations older than maxAge, at most
// batchSize rows per call. Returns the number of rows deleted.
func (r *GenerationRepo) DeleteOldByStatus(
	ctx context.Context,
	status model.GenerationStatus,
	maxAge time.Duration,
	batchSize int,
) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("status %q is not terminal", status)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := r.timeProvider.Now().UTC().Add(-maxAge)

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM generations
		WHERE id IN (
			SELECT id FROM generations
			WHERE status = $1 AND updated_at < $2
			LIMIT $3
		)`, status, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old %s generations: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// MaterializedResult returns the existing track row for a generation, or
// ErrTrackNotFound when the generation has not been materialized.
func (r *GenerationRepo) MaterializedResult(
	ctx context.Context,
	generationID string,
) (*model.MaterializedResult, error) {
	var result model.MaterializedResult
	err := r.DB.QueryRowContext(ctx, `
		SELECT generation_id, id, storage_path, public_url, byte_size, downloaded_at
		FROM tracks
		WHERE generation_id = $1`, generationID).
		Scan(&result.GenerationID, &result.TrackID, &result.StoragePath,
			&result.PublicURL, &result.ByteSize, &result.DownloadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackNotFound
		}
		return nil, fmt.Errorf("get track for generation %s: %w", generationID, err)
	}
	return &result, nil
}

// MarkMaterializedParams groups inputs for MarkMaterialized.
type MarkMaterializedParams struct {
	GenerationID string
	TrackID      string
	OwnerID      string
	StoragePath  string
	PublicURL    string
	ProviderURL  string
	ByteSize     int64
}

// MarkMaterialized records the materialization outcome in a single
// transaction: it upserts the track row keyed by generation id and stamps the
// generation's metadata, so a storage write is never observable without its
// domain record.
func (r *GenerationRepo) MarkMaterialized(
	ctx context.Context,
	p MarkMaterializedParams,
) (*model.MaterializedResult, error) {
	if p.GenerationID == "" {
		return nil, errors.New("generation id is required")
	}
	if p.TrackID == "" {
		return nil, errors.New("track id is required")
	}

	now := r.timeProvider.Now().UTC()
	var result model.MaterializedResult

	txErr := pgxutil.WithTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO tracks (id, generation_id, owner_id, storage_path, public_url, provider_url, byte_size, downloaded_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8)
			ON CONFLICT (generation_id) DO UPDATE
			SET updated_at = EXCLUDED.updated_at
			RETURNING generation_id, id, storage_path, public_url, byte_size, downloaded_at`,
			p.TrackID, p.GenerationID, p.OwnerID, p.StoragePath, p.PublicURL,
			p.ProviderURL, p.ByteSize, now).
			Scan(&result.GenerationID, &result.TrackID, &result.StoragePath,
				&result.PublicURL, &result.ByteSize, &result.DownloadedAt)
		if err != nil {
			return fmt.Errorf("upsert track: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE generations
			SET metadata = metadata
			      || jsonb_build_object($2::text, $3::text)
			      || jsonb_build_object($4::text, $5::text),
			    materialized_at = COALESCE(materialized_at, $6),
			    updated_at = $6
			WHERE id = $1`,
			p.GenerationID,
			model.MetaLocalStoragePath, result.PublicURL,
			model.MetaProviderURL, p.ProviderURL,
			now); err != nil {
			return fmt.Errorf("stamp generation metadata: %w", err)
		}
		return nil
	}})
	if txErr != nil {
		return nil, txErr
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "generation materialized",
			"generation_id", p.GenerationID,
			"track_id", result.TrackID,
			"byte_size", result.ByteSize,
		)
	}

	return &result, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row scanner) (*model.Generation, error) {
	var (
		gen        model.Generation
		stagesJSON []byte
		metaJSON   []byte
		current    sql.NullString
	)

	if err := row.Scan(
		&gen.ID, &gen.TaskID, &gen.OwnerID, &gen.Service, &gen.Status,
		&stagesJSON, &current, &gen.OverallProgress, &metaJSON,
		&gen.LastError, &gen.CreatedAt, &gen.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if current.Valid {
		gen.CurrentStage = current.String
	}
	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &gen.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal stages: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &gen.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &gen, nil
}

func collectGenerations(rows *sql.Rows) ([]*model.Generation, error) {
	var out []*model.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

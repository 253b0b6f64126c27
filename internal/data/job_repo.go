package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/data/pgxutil"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// RepoConfig holds configuration options for the job ledger repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the authoritative Postgres ledger for job control-plane state.
// It owns status, retry counters, and the idempotency unique constraint;
// payloads and logs belong to the result store.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  workspace_id,
  type,
  status,
  retries,
  max_retries,
  idempotency_key,
  created_at,
  updated_at,
  completed_at,
  error_message
`

// Create inserts a new pending job row. A unique-constraint conflict on
// (workspace_id, idempotency_key) is mapped to ErrDuplicateIdempotencyKey so
// the caller can re-resolve the existing job instead of erroring.
func (r *JobRepo) Create(ctx context.Context, params core.CreateJobParams) (*model.Job, error) {
	if strings.TrimSpace(params.WorkspaceID) == "" {
		return nil, errors.New("workspace_id is required")
	}
	if !params.Type.Valid() {
		return nil, fmt.Errorf("invalid job type: %q", params.Type)
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}

	now := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO jobs (workspace_id, type, status, retries, max_retries, idempotency_key, created_at, updated_at)
			VALUES ($1, $2, 'pending', 0, $3, $4, $5, $5)
			RETURNING `+jobColumns,
			params.WorkspaceID, params.Type, maxRetries, params.IdempotencyKey, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
		if err != nil {
			return err
		}
		job = &collected
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrJobIDRequired
	}

	job, err := r.queryOne(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByIdempotencyKey retrieves a job by its workspace-scoped idempotency key.
// The ledger is the source of truth here; the Redis mapping is only a cache.
func (r *JobRepo) GetByIdempotencyKey(ctx context.Context, key, workspaceID string) (*model.Job, error) {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(workspaceID) == "" {
		return nil, errors.New("idempotency key and workspace_id are required")
	}

	job, err := r.queryOne(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE idempotency_key = $1 AND workspace_id = $2
	`, key, workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by idempotency key: %w", err)
	}
	return job, nil
}

// ListByWorkspace returns jobs for a workspace, newest first.
func (r *JobRepo) ListByWorkspace(
	ctx context.Context,
	workspaceID string,
	limit, offset int,
) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE workspace_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, workspaceID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Job])
		if err != nil {
			return err
		}
		for i := range collected {
			row := collected[i]
			jobs = append(jobs, &row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs by workspace: %w", err)
	}
	return jobs, nil
}

// UpdateStatus transitions a job and stamps completed_at when the new status
// is terminal. Terminal rows are never transitioned again.
func (r *JobRepo) UpdateStatus(ctx context.Context, params core.UpdateStatusParams) (*model.Job, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, ErrJobIDRequired
	}
	if !params.Status.Valid() {
		return nil, fmt.Errorf("invalid job status: %q", params.Status)
	}

	var completedAt *time.Time
	if params.Status.Terminal() {
		now := r.timeProvider.Now().UTC()
		completedAt = &now
	}

	job, err := r.queryOne(ctx, `
		UPDATE jobs
		SET status = $2,
		    completed_at = $3,
		    error_message = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed')
		RETURNING `+jobColumns,
		params.ID, params.Status, completedAt, params.ErrorMessage, r.timeProvider.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the job is missing or it already reached a terminal state.
		existing, getErr := r.GetByID(ctx, params.ID)
		if getErr != nil {
			return nil, getErr
		}
		if r.logger != nil {
			r.logger.WarnContext(ctx, "skipped status update on terminal job",
				"job_id", params.ID,
				"current_status", existing.Status,
				"requested_status", params.Status,
			)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	return job, nil
}

// IncrementRetries bumps the retry counter and returns the updated row so the
// worker can decide between requeue and terminal failure.
func (r *JobRepo) IncrementRetries(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrJobIDRequired
	}

	job, err := r.queryOne(ctx, `
		UPDATE jobs
		SET retries = retries + 1,
		    updated_at = $2
		WHERE id = $1
		RETURNING `+jobColumns,
		id, r.timeProvider.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("increment job retries: %w", err)
	}
	return job, nil
}

// Stats returns job counts per status, optionally scoped to a workspace.
func (r *JobRepo) Stats(ctx context.Context, workspaceID string) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'pending')    AS pending,
	    count(*) FILTER (WHERE status = 'processing') AS processing,
	    count(*) FILTER (WHERE status = 'completed')  AS completed,
	    count(*) FILTER (WHERE status = 'failed')     AS failed
	  FROM jobs
	  WHERE (NULLIF($1, '') IS NULL OR workspace_id = NULLIF($1, '')::uuid)
	  `, workspaceID).Scan(
		&s.Pending,
		&s.Processing,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

func (r *JobRepo) queryOne(ctx context.Context, query string, args ...any) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
		if err != nil {
			return err
		}
		job = &collected
		return nil
	})
	return job, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

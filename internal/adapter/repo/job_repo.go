package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, project_id, user_id, variation, source_key, source_mime, target_language,
status, retry_count, error_code, error_message, is_retryable,
processing_started_at, first_error_at, last_retry_at, processing_duration_ms,
output_asset_id, created_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, project_id, user_id, variation, source_key, source_mime, target_language, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.ProjectID,
		job.UserID,
		job.Variation,
		job.SourceKey,
		job.SourceMIME,
		job.TargetLanguage,
		job.Status,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByIDs fetches a batch of jobs, used by the client reconciliation poll.
func (r *JobRepositoryPG) ListByIDs(ctx context.Context, jobIDs []string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ANY($1);`
	rows, err := r.pool.Query(ctx, query, jobIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// TransitionStatus performs an optimistic compare-and-set on the job status.
// Zero affected rows means the job was not in the expected state.
func (r *JobRepositoryPG) TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	query := `
UPDATE jobs
SET status = $3,
    processing_started_at = CASE WHEN $3 = 'processing' AND processing_started_at IS NULL THEN NOW() ELSE processing_started_at END,
    updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, jobID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// MarkRetrying records a retry attempt: bumps retry_count and last_retry_at.
// Terminal jobs are never moved back into retrying.
func (r *JobRepositoryPG) MarkRetrying(ctx context.Context, jobID string, at time.Time) error {
	query := `
UPDATE jobs
SET status = 'retrying',
    retry_count = retry_count + 1,
    last_retry_at = $2,
    updated_at = NOW()
WHERE id = $1 AND status IN ('processing', 'retrying');
`
	tag, err := r.pool.Exec(ctx, query, jobID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// SetFirstError records the first failed attempt timestamp once.
func (r *JobRepositoryPG) SetFirstError(ctx context.Context, jobID string, at time.Time) error {
	query := `
UPDATE jobs
SET first_error_at = COALESCE(first_error_at, $2),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, at)
	return err
}

// MarkCompleted finalizes a successful job.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, outputAssetID string, durationMS int64) error {
	query := `
UPDATE jobs
SET status = 'completed',
    output_asset_id = $2,
    processing_duration_ms = $3,
    error_code = '',
    error_message = '',
    is_retryable = FALSE,
    updated_at = NOW()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, query, jobID, outputAssetID, durationMS)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// MarkFailed finalizes a failed job with its last classified error.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, code domain.ErrorCode, message string, retryable bool) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_code = $2,
    error_message = $3,
    is_retryable = $4,
    updated_at = NOW()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, query, jobID, code, message, retryable)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// AverageProcessingDuration returns the mean wall-clock duration of
// successful attempts, feeding the client-side progress estimate.
func (r *JobRepositoryPG) AverageProcessingDuration(ctx context.Context) (time.Duration, error) {
	query := `SELECT COALESCE(AVG(processing_duration_ms), 0) FROM jobs WHERE status = 'completed';`
	var avgMS float64
	if err := r.pool.QueryRow(ctx, query).Scan(&avgMS); err != nil {
		return 0, err
	}
	return time.Duration(avgMS) * time.Millisecond, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.UserID,
		&job.Variation,
		&job.SourceKey,
		&job.SourceMIME,
		&job.TargetLanguage,
		&job.Status,
		&job.RetryCount,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.IsRetryable,
		&job.ProcessingStartedAt,
		&job.FirstErrorAt,
		&job.LastRetryAt,
		&job.ProcessingDurationMS,
		&job.OutputAssetID,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// ErrorLogRepositoryPG implements domain.ErrorLogRepository.
type ErrorLogRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewErrorLogRepository creates an error log repository backed by PostgreSQL.
func NewErrorLogRepository(pool *pgxpool.Pool) *ErrorLogRepositoryPG {
	return &ErrorLogRepositoryPG{pool: pool}
}

// Append writes one audit entry for a failed attempt.
func (r *ErrorLogRepositoryPG) Append(ctx context.Context, entry *domain.JobErrorLog) error {
	query := `
INSERT INTO job_error_logs (id, job_id, error_code, message, attempt_number)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.JobID,
		entry.ErrorCode,
		entry.Message,
		entry.AttemptNumber,
	)
	return err
}

// CountByJobID returns the number of logged attempts for a job.
func (r *ErrorLogRepositoryPG) CountByJobID(ctx context.Context, jobID string) (int, error) {
	query := `SELECT COUNT(*) FROM job_error_logs WHERE job_id = $1;`
	var count int
	if err := r.pool.QueryRow(ctx, query, jobID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

var _ domain.ErrorLogRepository = (*ErrorLogRepositoryPG)(nil)

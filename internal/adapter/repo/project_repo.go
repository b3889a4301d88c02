package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// ProjectRepositoryPG implements domain.ProjectRepository.
type ProjectRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a project repository backed by PostgreSQL.
func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepositoryPG {
	return &ProjectRepositoryPG{pool: pool}
}

// Create inserts a new project record.
func (r *ProjectRepositoryPG) Create(ctx context.Context, project *domain.Project) error {
	query := `INSERT INTO projects (id, user_id, name) VALUES ($1, $2, $3);`
	_, err := r.pool.Exec(ctx, query, project.ID, project.UserID, project.Name)
	return err
}

// IsOwner reports whether the user owns the project.
func (r *ProjectRepositoryPG) IsOwner(ctx context.Context, projectID, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND user_id = $2);`
	var owner bool
	if err := r.pool.QueryRow(ctx, query, projectID, userID).Scan(&owner); err != nil {
		return false, err
	}
	return owner, nil
}

var _ domain.ProjectRepository = (*ProjectRepositoryPG)(nil)

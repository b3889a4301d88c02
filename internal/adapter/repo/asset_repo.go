package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// AssetRepositoryPG implements domain.AssetRepository.
type AssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAssetRepository creates an asset repository backed by PostgreSQL.
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepositoryPG {
	return &AssetRepositoryPG{pool: pool}
}

// Create inserts the storage record for a translated artifact.
func (r *AssetRepositoryPG) Create(ctx context.Context, asset *domain.Asset) error {
	query := `
INSERT INTO assets (id, job_id, user_id, storage_key, mime, bytes)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		asset.ID,
		asset.JobID,
		asset.UserID,
		asset.StorageKey,
		asset.MIME,
		asset.Bytes,
	)
	return err
}

// GetByID fetches an asset record.
func (r *AssetRepositoryPG) GetByID(ctx context.Context, assetID string) (*domain.Asset, error) {
	query := `
SELECT id, job_id, user_id, storage_key, mime, bytes, created_at
FROM assets
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, assetID)
	var asset domain.Asset
	if err := row.Scan(
		&asset.ID,
		&asset.JobID,
		&asset.UserID,
		&asset.StorageKey,
		&asset.MIME,
		&asset.Bytes,
		&asset.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

var _ domain.AssetRepository = (*AssetRepositoryPG)(nil)

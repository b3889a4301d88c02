package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// SubscriptionRepositoryPG implements domain.SubscriptionRepository.
type SubscriptionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a subscription repository backed by PostgreSQL.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepositoryPG {
	return &SubscriptionRepositoryPG{pool: pool}
}

// GetByUserID fetches the subscription owning a user's credit ledger.
func (r *SubscriptionRepositoryPG) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `
SELECT id, user_id, plan, credits_limit, credits_used, created_at, updated_at
FROM subscriptions
WHERE user_id = $1;
`
	row := r.pool.QueryRow(ctx, query, userID)
	var sub domain.Subscription
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Plan,
		&sub.CreditsLimit,
		&sub.CreditsUsed,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoSubscription
		}
		return nil, err
	}
	return &sub, nil
}

// AddUsage increments credits_used by cost, guarded so used never exceeds
// the limit. Zero affected rows means the deduction would overrun the ledger.
func (r *SubscriptionRepositoryPG) AddUsage(ctx context.Context, userID string, cost int) error {
	query := `
UPDATE subscriptions
SET credits_used = credits_used + $2,
    updated_at = NOW()
WHERE user_id = $1 AND credits_used + $2 <= credits_limit;
`
	tag, err := r.pool.Exec(ctx, query, userID, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientCredits
	}
	return nil
}

var _ domain.SubscriptionRepository = (*SubscriptionRepositoryPG)(nil)

package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. TransitionStatus is
// an optimistic compare-and-set: it succeeds only when the job is currently
// in the expected state, so a terminal status can never regress and
// re-entrant executions are rejected rather than queued.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByIDs(ctx context.Context, jobIDs []string) ([]Job, error)
	TransitionStatus(ctx context.Context, jobID string, from, to JobStatus) error
	MarkRetrying(ctx context.Context, jobID string, at time.Time) error
	SetFirstError(ctx context.Context, jobID string, at time.Time) error
	MarkCompleted(ctx context.Context, jobID, outputAssetID string, durationMS int64) error
	MarkFailed(ctx context.Context, jobID string, code ErrorCode, message string, retryable bool) error
	AverageProcessingDuration(ctx context.Context) (time.Duration, error)
}

// ProjectRepository resolves job ownership.
type ProjectRepository interface {
	IsOwner(ctx context.Context, projectID, userID string) (bool, error)
	Create(ctx context.Context, project *Project) error
}

// SubscriptionRepository owns the credit ledger. AddUsage performs a single
// conditional increment and fails when the deduction would exceed the limit.
type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID string) (*Subscription, error)
	AddUsage(ctx context.Context, userID string, cost int) error
}

// AssetRepository handles persistence for translated artifacts.
type AssetRepository interface {
	Create(ctx context.Context, asset *Asset) error
	GetByID(ctx context.Context, assetID string) (*Asset, error)
}

// ErrorLogRepository appends audit entries for failed attempts. Entries are
// never mutated.
type ErrorLogRepository interface {
	Append(ctx context.Context, entry *JobErrorLog) error
	CountByJobID(ctx context.Context, jobID string) (int, error)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/translate"
)

// ObjectStore is the artifact storage boundary required by the executor.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Notifier receives every persisted job status change so push subscribers
// observe the same state a poll would read.
type Notifier interface {
	JobChanged(job *domain.Job)
}

// Options tunes the retry and accounting policy.
type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	BackoffMult float64
	JobCost     int
}

// Outcome is the terminal or in-flight result of one execution.
type Outcome struct {
	JobID                string           `json:"job_id"`
	Status               domain.JobStatus `json:"status"`
	OutputAssetID        string           `json:"output_asset_id,omitempty"`
	ProcessingDurationMS int64            `json:"processing_duration_ms,omitempty"`
	ErrorCode            domain.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	IsRetryable          bool             `json:"is_retryable"`
}

// Executor runs a single job end to end: admission, the bounded retry loop
// around the provider call, artifact persistence and credit accounting. It
// has no knowledge of other jobs; executions are fully independent and the
// backoff sleep blocks only the calling goroutine.
type Executor struct {
	jobs       domain.JobRepository
	projects   domain.ProjectRepository
	subs       domain.SubscriptionRepository
	assets     domain.AssetRepository
	errorLogs  domain.ErrorLogRepository
	store      ObjectStore
	translator translate.Translator
	notifier   Notifier
	logger     infra.Logger
	opts       Options

	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps bundles executor collaborators.
type Deps struct {
	Jobs       domain.JobRepository
	Projects   domain.ProjectRepository
	Subs       domain.SubscriptionRepository
	Assets     domain.AssetRepository
	ErrorLogs  domain.ErrorLogRepository
	Store      ObjectStore
	Translator translate.Translator
	Notifier   Notifier
	Logger     infra.Logger
}

// New constructs an Executor with defaults applied to zero-valued options.
func New(deps Deps, opts Options) *Executor {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.BackoffMult <= 0 {
		opts.BackoffMult = 2.0
	}
	if opts.JobCost <= 0 {
		opts.JobCost = 1
	}
	return &Executor{
		jobs:       deps.Jobs,
		projects:   deps.Projects,
		subs:       deps.Subs,
		assets:     deps.Assets,
		errorLogs:  deps.ErrorLogs,
		store:      deps.Store,
		translator: deps.Translator,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		opts:       opts,
		sleep:      sleepContext,
	}
}

// Execute performs one full attempt loop for the job and returns the
// terminal outcome. Admission failures are returned as errors without
// touching the job row; everything after admission lands on the row so any
// later reader observes the same terminal state.
func (e *Executor) Execute(ctx context.Context, userID, jobID string) (*Outcome, error) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	owner, err := e.projects.IsOwner(ctx, job.ProjectID, userID)
	if err != nil {
		return nil, fmt.Errorf("verify ownership: %w", err)
	}
	if !owner {
		return nil, domain.ErrNotOwner
	}

	if job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobNotPending
	}

	sub, err := e.subs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.HasCredits(e.opts.JobCost) {
		return nil, domain.ErrInsufficientCredits
	}

	// The compare-and-set rejects a concurrent execution of the same job:
	// only one caller wins the pending -> processing transition.
	if err := e.jobs.TransitionStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil, domain.ErrJobNotPending
		}
		return nil, err
	}
	startedAt := time.Now()
	e.publish(ctx, job.ID)

	source, err := e.store.Download(ctx, job.SourceKey)
	if err != nil {
		return e.fail(ctx, job, domain.ErrorCodePermanent, fmt.Sprintf("load source artifact: %v", err), false)
	}

	prompt := translate.BuildPrompt(job.TargetLanguage, job.Variation)
	result, code, message, retryable, err := e.attemptLoop(ctx, job, source, prompt)
	if err != nil {
		return e.fail(ctx, job, code, message, retryable)
	}

	return e.complete(ctx, job, result, startedAt)
}

// attemptLoop retries exactly the provider call, never the admission or
// accounting steps. It runs up to MaxRetries+1 attempts with exponential
// backoff between transient failures.
func (e *Executor) attemptLoop(ctx context.Context, job *domain.Job, source []byte, prompt string) (*translate.Result, domain.ErrorCode, string, bool, error) {
	var (
		lastCode      domain.ErrorCode
		lastMessage   string
		lastRetryable bool
		firstError    bool
	)

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.jobs.MarkRetrying(ctx, job.ID, time.Now()); err != nil {
				return nil, domain.ErrorCodePermanent, fmt.Sprintf("mark retrying: %v", err), false, err
			}
			e.publish(ctx, job.ID)
		}

		result, err := e.translator.Translate(ctx, translate.Request{
			Data:      source,
			MIME:      job.SourceMIME,
			Prompt:    prompt,
			RequestID: job.ID,
		})
		if err == nil {
			return result, "", "", false, nil
		}

		code, retryable := translate.Classify(err)
		lastCode, lastMessage, lastRetryable = code, err.Error(), retryable

		if !firstError {
			firstError = true
			if ferr := e.jobs.SetFirstError(ctx, job.ID, time.Now()); ferr != nil {
				e.logger.Warn().Err(ferr).Str("job_id", job.ID).Msg("engine: record first error failed")
			}
		}
		if lerr := e.errorLogs.Append(ctx, &domain.JobErrorLog{
			ID:            uuid.NewString(),
			JobID:         job.ID,
			ErrorCode:     code,
			Message:       lastMessage,
			AttemptNumber: attempt,
		}); lerr != nil {
			e.logger.Warn().Err(lerr).Str("job_id", job.ID).Msg("engine: append error log failed")
		}

		e.logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", attempt).
			Str("error_code", string(code)).
			Bool("retryable", retryable).
			Msg("engine: provider attempt failed")

		if !retryable || attempt == e.opts.MaxRetries {
			return nil, lastCode, lastMessage, lastRetryable, fmt.Errorf("provider attempt %d: %s", attempt, lastMessage)
		}

		delay := backoffDelay(e.opts.BaseDelay, e.opts.BackoffMult, attempt)
		if serr := e.sleep(ctx, delay); serr != nil {
			return nil, lastCode, lastMessage, lastRetryable, fmt.Errorf("backoff interrupted: %w", serr)
		}
	}

	return nil, lastCode, lastMessage, lastRetryable, errors.New("retry budget exhausted")
}

// complete uploads the artifact, records it, finalizes the job row and
// deducts credits. A deduction failure is logged but does not fail the
// already-successful job; the ledger debt is reconciled out of band.
func (e *Executor) complete(ctx context.Context, job *domain.Job, result *translate.Result, startedAt time.Time) (*Outcome, error) {
	assetID := uuid.NewString()
	key := fmt.Sprintf("translated/%s/%s%s", job.ID, assetID, extensionForMIME(result.MIME))

	savedKey, err := e.store.Upload(ctx, key, result.Data)
	if err != nil {
		return e.fail(ctx, job, domain.ErrorCodePermanent, fmt.Sprintf("upload artifact: %v", err), false)
	}

	if err := e.assets.Create(ctx, &domain.Asset{
		ID:         assetID,
		JobID:      job.ID,
		UserID:     job.UserID,
		StorageKey: savedKey,
		MIME:       result.MIME,
		Bytes:      int64(len(result.Data)),
	}); err != nil {
		// Roll back the orphaned artifact before surfacing the failure.
		if derr := e.store.Delete(ctx, savedKey); derr != nil {
			e.logger.Warn().Err(derr).Str("job_id", job.ID).Str("storage_key", savedKey).Msg("engine: cleanup uploaded artifact failed")
		}
		return e.fail(ctx, job, domain.ErrorCodePermanent, fmt.Sprintf("create asset record: %v", err), false)
	}

	durationMS := time.Since(startedAt).Milliseconds()
	if err := e.jobs.MarkCompleted(ctx, job.ID, assetID, durationMS); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	e.publish(ctx, job.ID)

	if err := e.subs.AddUsage(ctx, job.UserID, e.opts.JobCost); err != nil {
		e.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("cost", e.opts.JobCost).
			Msg("engine: credit deduction failed after success, ledger needs reconciliation")
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Int64("duration_ms", durationMS).
		Msg("engine: job completed")

	return &Outcome{
		JobID:                job.ID,
		Status:               domain.JobStatusCompleted,
		OutputAssetID:        assetID,
		ProcessingDurationMS: durationMS,
	}, nil
}

// fail finalizes the job row with the last classified error. Failed jobs
// consume zero credits.
func (e *Executor) fail(ctx context.Context, job *domain.Job, code domain.ErrorCode, message string, retryable bool) (*Outcome, error) {
	if err := e.jobs.MarkFailed(ctx, job.ID, code, message, retryable); err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	e.publish(ctx, job.ID)

	e.logger.Error().
		Str("job_id", job.ID).
		Str("error_code", string(code)).
		Bool("retryable", retryable).
		Msg("engine: job failed")

	return &Outcome{
		JobID:        job.ID,
		Status:       domain.JobStatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
		IsRetryable:  retryable,
	}, nil
}

// publish reloads the persisted row and hands it to the notifier, so the
// push channel always carries state a poll would also observe.
func (e *Executor) publish(ctx context.Context, jobID string) {
	if e.notifier == nil {
		return
	}
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("engine: reload job for notification failed")
		return
	}
	e.notifier.JobChanged(job)
}

func backoffDelay(base time.Duration, mult float64, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

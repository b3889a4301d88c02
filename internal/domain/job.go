package domain

import "time"

// JobStatus enumerates job lifecycle states. A job moves
// pending -> processing -> (retrying <-> processing)* -> completed|failed
// and never leaves a terminal state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorCode classifies provider failures. The retry policy is a pure
// function of this tag.
type ErrorCode string

const (
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	ErrorCodePermanent        ErrorCode = "permanent"
)

// IsRetryable reports whether a failure with this code may succeed on retry.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrorCodeRateLimited, ErrorCodeTimeout, ErrorCodeDeadlineExceeded:
		return true
	default:
		return false
	}
}

// Job is one requested translation of one image into one variation. It is
// the unit of retry and credit accounting and belongs to exactly one project.
type Job struct {
	ID                   string
	ProjectID            string
	UserID               string
	Variation            int
	SourceKey            string
	SourceMIME           string
	TargetLanguage       string
	Status               JobStatus
	RetryCount           int
	ErrorCode            ErrorCode
	ErrorMessage         string
	IsRetryable          bool
	ProcessingStartedAt  *time.Time
	FirstErrorAt         *time.Time
	LastRetryAt          *time.Time
	ProcessingDurationMS int64
	OutputAssetID        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

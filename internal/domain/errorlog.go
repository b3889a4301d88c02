package domain

import "time"

// JobErrorLog is an append-only audit record, one per failed attempt.
type JobErrorLog struct {
	ID            string
	JobID         string
	ErrorCode     ErrorCode
	Message       string
	AttemptNumber int
	CreatedAt     time.Time
}

package domain

import "time"

// Asset records a translated artifact produced by a completed job. The
// bytes themselves live in the object store under StorageKey.
type Asset struct {
	ID         string
	JobID      string
	UserID     string
	StorageKey string
	MIME       string
	Bytes      int64
	CreatedAt  time.Time
}

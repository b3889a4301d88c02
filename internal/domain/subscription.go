package domain

import "time"

// Subscription owns the credit ledger for a user. Credits are read once
// before a job starts and incremented once on terminal success; they are
// never decremented, and failed jobs consume zero credits.
type Subscription struct {
	ID           string
	UserID       string
	Plan         string
	CreditsLimit int
	CreditsUsed  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasCredits reports whether cost more credits fit under the limit.
func (s Subscription) HasCredits(cost int) bool {
	return s.CreditsUsed+cost <= s.CreditsLimit
}

// Remaining returns the number of credits still available.
func (s Subscription) Remaining() int {
	if r := s.CreditsLimit - s.CreditsUsed; r > 0 {
		return r
	}
	return 0
}

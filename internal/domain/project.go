package domain

import "time"

// Project anchors job ownership. A job belongs to exactly one project and
// is never shared or reassigned.
type Project struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

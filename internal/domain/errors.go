package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotOwner            = errors.New("not project owner")
	ErrJobNotPending       = errors.New("job is not pending")
	ErrNoSubscription      = errors.New("no active subscription")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrStatusConflict      = errors.New("job status conflict")
	ErrProviderFailure     = errors.New("provider failure")
)

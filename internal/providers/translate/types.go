package translate

import (
	"context"
	"errors"
	"fmt"

	"server/internal/domain"
)

// Request carries the source artifact bytes and the generated prompt for a
// single translation attempt.
type Request struct {
	Data      []byte
	MIME      string
	Prompt    string
	RequestID string
}

// Result is the translated artifact returned by a provider.
type Result struct {
	Data []byte
	MIME string
}

// Translator is the contract implemented by all visual translation providers.
type Translator interface {
	Translate(ctx context.Context, req Request) (*Result, error)
}

// ClassifiedError tags a provider failure with an explicit error code so the
// retry policy is a pure function of the tag, not of message matching.
type ClassifiedError struct {
	Code    domain.ErrorCode
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("translate: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("translate: %s", e.Code)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *ClassifiedError) Retryable() bool {
	return e.Code.IsRetryable()
}

// Classify extracts the error code from a provider failure. Errors that do
// not carry a classification are treated as permanent.
func Classify(err error) (domain.ErrorCode, bool) {
	var cerr *ClassifiedError
	if errors.As(err, &cerr) {
		return cerr.Code, cerr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorCodeDeadlineExceeded, true
	}
	return domain.ErrorCodePermanent, false
}

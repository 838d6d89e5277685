package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Marker for failures which retrying can not fix (missing permission, unknown entity, malformed request). Wrap with
// Permanent and the dispatcher returns on the first occurrence.
var ErrPermanent = errors.New("permanent failure")

// Returned, wrapping the last operation error, when an operation failed on every allowed attempt.
var ErrExhausted = errors.New("retries exhausted")

// Rate-limit signal from the platform. Adapters convert their client's rate-limit responses into this type.
type RateLimitError struct {
	RetryAfter time.Duration
	// limit applies to every route, not only the one which received it
	Global bool
	Err    error
}

func (e *RateLimitError) Error() string {
	scope := "route"
	if e.Global {
		scope = "global"
	}
	if e.Err != nil {
		return fmt.Sprintf("rate limited (%s, retry after %s): %s", scope, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (%s, retry after %s)", scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() []error {
	return []error{ErrPermanent, e.err}
}

// Marks an error as not worth retrying. Returns nil for a nil error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

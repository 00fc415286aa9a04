package generation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPollTimeout means the job did not finish within the polling budget.
	ErrPollTimeout = errors.New("job polling timed out")
	// ErrRetriesExhausted wraps the last transient failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("generation retries exhausted")
	// ErrMalformedOutput means a finished job carried output that does not fit the requested mode.
	ErrMalformedOutput = errors.New("malformed job output")
)

// ClientError is a terminal 4xx rejection (quota exceeded, bad credentials). It is never retried.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: status %d: %s", e.Status, e.Body)
}

// StatusError is a non-2xx, non-4xx response; transient.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// JobError is reported when the remote job finishes in the error state; transient.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// IsTerminal reports whether err must stop retrying: client rejections and cancellation.
func IsTerminal(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}

// AsClientError extracts a terminal client error.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func statusError(status int, body string) error {
	if status >= 400 && status < 500 {
		return &ClientError{Status: status, Body: body}
	}
	return &StatusError{Status: status, Body: body}
}

// IsRetryable reports whether err is a transient failure worth another attempt.
// Per-request timeouts are transient; the caller's own deadline is checked separately.
func IsRetryable(err error) bool {
	return err != nil && !IsTerminal(err)
}

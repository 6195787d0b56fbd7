// Package fetcher classifies fetch failures shared by the transport
// implementations under fetcher/colly and fetcher/headless.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError marks a failure worth retrying: timeouts, connection
// resets, 429 and the 5xx class.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient: status %d", e.StatusCode)
	}
	return fmt.Errorf("transient: %w", e.Err).Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that must not be retried, either because
// the status class is non-retryable or because the retry budget ran out.
type PermanentError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("permanent after %d attempts: %v", e.Attempts, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent: status %d", e.StatusCode)
	}
	return fmt.Errorf("permanent: %w", e.Err).Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// ClassifyStatus wraps a non-2xx status into the matching error class.
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{StatusCode: status, Err: fmt.Errorf("http status %d", status)}
	default:
		return &PermanentError{StatusCode: status, Err: fmt.Errorf("http status %d", status)}
	}
}

// ClassifyErr wraps a transport error. Context cancellation stays permanent
// so an external stop request is never retried; network timeouts and
// connection failures are transient.
func ClassifyErr(err error) error {
	if err == nil {
		return nil
	}
	var transient *TransientError
	var permanent *PermanentError
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &PermanentError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransientError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should consume retry budget.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

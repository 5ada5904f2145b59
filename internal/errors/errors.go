package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrConnectionFailed = errors.New("connection failed")
)

// UpstreamError is a failed call to an external collaborator such as the
// identity provider or the payment provider.
type UpstreamError struct {
	Op         string // e.g. "update_organization"
	Target     string // resource the call was about, e.g. an organization id
	StatusCode int    // HTTP status when the collaborator answered
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Target != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s %s failed (HTTP %d): %v", e.Op, e.Target, e.StatusCode, e.Err)
	case e.Target != "":
		return fmt.Sprintf("%s %s failed: %v", e.Op, e.Target, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is maps status codes onto the base error types.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// NewUpstreamError wraps a transport-level failure (no HTTP answer).
func NewUpstreamError(op, target string, err error) *UpstreamError {
	return &UpstreamError{
		Op:        op,
		Target:    target,
		Err:       err,
		Retryable: isTransientTransportError(err),
	}
}

// WithStatusCode records the collaborator's answer and reclassifies retryability.
func (e *UpstreamError) WithStatusCode(code int) *UpstreamError {
	e.StatusCode = code
	switch {
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		e.Retryable = true
	case code >= 400:
		e.Retryable = false
	}
	return e
}

func isTransientTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionFailed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}
	return isTransientTransportError(err)
}

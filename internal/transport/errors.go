// Package transport performs multipart HTTP upload requests with upload
// progress, caller-initiated abort, first-byte and total-deadline timeouts,
// and status classification.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for request outcomes and HTTP status classification.
// Use errors.Is(err, transport.ErrNotFound) to check.
var (
	ErrAborted         = errors.New("transport: request aborted")
	ErrResponseTimeout = errors.New("transport: response timeout")
	ErrDeadline        = errors.New("transport: deadline exceeded")

	ErrBadRequest      = errors.New("transport: bad request")
	ErrUnauthorized    = errors.New("transport: unauthorized")
	ErrForbidden       = errors.New("transport: forbidden")
	ErrNotFound        = errors.New("transport: not found")
	ErrConflict        = errors.New("transport: conflict")
	ErrTooLarge        = errors.New("transport: payload too large")
	ErrUnsupportedType = errors.New("transport: unsupported media type")
	ErrThrottled       = errors.New("transport: throttled")
	ErrServerError     = errors.New("transport: server error")
)

// StatusError reports a completed request whose status is not 2xx. The
// response is still delivered alongside it.
type StatusError struct {
	StatusCode int
	Status     string
	Err        error // sentinel, for errors.Is()
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// TimeoutError reports an expired timeout bound. Kind is ErrResponseTimeout
// or ErrDeadline.
type TimeoutError struct {
	Kind  error
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Kind == ErrResponseTimeout {
		return fmt.Sprintf("Response timeout of %dms exceeded", e.Limit.Milliseconds())
	}

	return fmt.Sprintf("Timeout of %dms exceeded", e.Limit.Milliseconds())
}

func (e *TimeoutError) Unwrap() error {
	return e.Kind
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusUnsupportedMediaType:
		return ErrUnsupportedType
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isSuccess reports whether code is a 2xx status.
func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/tonimelisma/upload-manager/internal/transport"
)

// DefaultErrorField is the payload key holding an application-level error.
const DefaultErrorField = "errors"

// Caller contract violations returned by Upload. None of them fire callbacks.
var (
	ErrEmptyID       = errors.New("upload: file id must not be empty")
	ErrSessionActive = errors.New("upload: a session with this id is already active")
	ErrNoURL         = errors.New("upload: no upload url configured")
)

// TransportError is a network, timeout, abort or HTTP status failure.
// Its message is the underlying transport error's message.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is an error reported inside an otherwise successful
// response payload. Detail is the payload's error field as decoded JSON.
type ApplicationError struct {
	Detail any
}

func (e *ApplicationError) Error() string {
	switch d := e.Detail.(type) {
	case string:
		return d
	case map[string]any:
		if msg, ok := d["message"].(string); ok && msg != "" {
			return msg
		}
	}

	b, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Sprintf("upload: application error: %v", e.Detail)
	}

	return "upload: application error: " + string(b)
}

// ErrorHandler normalizes a transport outcome into a Result. It must not
// modify resp.
type ErrorHandler func(err error, resp *transport.Response) Result

// DefaultErrorHandler normalizes with the "errors" payload field.
func DefaultErrorHandler(err error, resp *transport.Response) Result {
	return normalize(DefaultErrorField, err, resp)
}

// ErrorFieldHandler returns an ErrorHandler reading the application error
// from field instead of "errors".
func ErrorFieldHandler(field string) ErrorHandler {
	return func(err error, resp *transport.Response) Result {
		return normalize(field, err, resp)
	}
}

// normalize applies the precedence transport error > payload error field >
// no error. The field is stripped from a copy of the payload in every case.
func normalize(field string, err error, resp *transport.Response) Result {
	var body map[string]any
	if resp != nil {
		body = resp.Body
	}

	detail, hasField := body[field]
	if hasField {
		body = maps.Clone(body)
		delete(body, field)
	}

	switch {
	case err != nil:
		return Result{Err: &TransportError{Err: err}, Body: body}
	case hasField && !isEmptyDetail(detail):
		return Result{Err: &ApplicationError{Detail: detail}, Body: body}
	default:
		return Result{Body: body}
	}
}

// isEmptyDetail reports whether a decoded error field carries no error:
// null, false or the empty string.
func isEmptyDetail(v any) bool {
	switch d := v.(type) {
	case nil:
		return true
	case bool:
		return !d
	case string:
		return d == ""
	default:
		return false
	}
}

package upload

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/tonimelisma/upload-manager/internal/transport"
)

// Status is the lifecycle state reported to callbacks.
type Status string

// Upload statuses.
const (
	StatusUploading Status = "uploading"
	StatusAborted   Status = "aborted"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// File identifies one upload and carries what goes into its body.
// It is passed by value and never written to by the coordinator.
type File struct {
	ID   string
	Data FileData
}

// FileData is parsed into the multipart body. The file part is read from
// Path when set, otherwise from Content. With neither, only Fields are sent.
type FileData struct {
	Name        string
	Path        string
	Content     []byte
	ContentType string
	Fields      map[string]string
}

// clone returns a deep copy so parsers never share memory with the caller.
func (d FileData) clone() FileData {
	out := d
	out.Fields = maps.Clone(d.Fields)
	out.Content = slices.Clone(d.Content)

	return out
}

// Event is the payload passed to lifecycle callbacks. Progress is set for
// progress events, Result for the end event.
type Event struct {
	Status   Status
	Progress float64
	Result   Result
}

// Callback receives lifecycle events for a file id.
type Callback func(id string, ev Event)

// Result is the normalized outcome of an upload. Err is nil, a
// *TransportError, or an *ApplicationError. Body is the response payload
// without the application error field.
type Result struct {
	Err  error
	Body map[string]any
}

// MarshalJSON renders the result as {"error": ..., "result": ...}. A
// transport error renders as its message, an application error as its
// original detail value.
func (r Result) MarshalJSON() ([]byte, error) {
	var errVal any

	var appErr *ApplicationError
	switch {
	case r.Err == nil:
	case errors.As(r.Err, &appErr):
		errVal = appErr.Detail
	default:
		errVal = r.Err.Error()
	}

	return json.Marshal(struct {
		Error  any            `json:"error"`
		Result map[string]any `json:"result"`
	}{Error: errVal, Result: r.Body})
}

// SessionInfo is a read-only snapshot of an active session.
type SessionInfo struct {
	ID        string
	Timeout   transport.Timeout
	Aborted   bool
	Active    bool
	StartedAt time.Time
}

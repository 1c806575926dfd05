package transport

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultMethod = http.MethodPost
	defaultAccept = "application/json"
)

// Timeout holds the two independent timeout bounds of a request. Zero
// disables a bound.
type Timeout struct {
	Response time.Duration // time allowed until the first response byte
	Deadline time.Duration // time allowed for the whole request
}

// Options configures a single request.
type Options struct {
	Method          string
	Accept          string
	Headers         map[string]string
	Timeout         Timeout
	WithCredentials bool // send and store cookies through the client's jar
}

// withDefaults returns a copy of o with the method upper-cased and empty
// fields defaulted. The headers map is copied.
func (o Options) withDefaults() Options {
	out := o

	out.Method = strings.ToUpper(strings.TrimSpace(o.Method))
	if out.Method == "" {
		out.Method = defaultMethod
	}

	if out.Accept == "" {
		out.Accept = defaultAccept
	}

	if o.Headers != nil {
		out.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			out.Headers[k] = v
		}
	}

	return out
}

// Validate checks that the options describe a request that can carry a
// multipart body.
func (o Options) Validate() error {
	switch strings.ToUpper(strings.TrimSpace(o.Method)) {
	case "", http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("transport: method %q cannot carry an upload body", o.Method)
	}

	if o.Timeout.Response < 0 {
		return fmt.Errorf("transport: response timeout must not be negative, got %s", o.Timeout.Response)
	}

	if o.Timeout.Deadline < 0 {
		return fmt.Errorf("transport: deadline must not be negative, got %s", o.Timeout.Deadline)
	}

	return nil
}

// Body is a request payload. Size is the exact length in bytes, or -1 when
// unknown. When Reader implements io.Closer it is closed once the request
// completes.
type Body struct {
	Reader      io.Reader
	ContentType string
	Size        int64
}

// Progress reports how much of the request body has been sent.
type Progress struct {
	Loaded int64
	Total  int64 // -1 when unknown
}

// Percent returns the share of the body sent, in the range 0..100.
// It returns 0 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}

	return float64(p.Loaded) * 100 / float64(p.Total)
}

// Response is a completed HTTP exchange. JSON object payloads are decoded
// into Body; anything else is kept verbatim in Text.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       map[string]any
	Text       string
}

// Listener receives request events. Progress may be called many times from
// the goroutine writing the body; Complete is called exactly once.
type Listener struct {
	Progress func(Progress)
	Complete func(err error, resp *Response)
}

// Handle is one prepared request. It is created unsent so the caller can
// register it before any event can fire.
type Handle interface {
	Send(l Listener)
	Abort()
	Aborted() bool
	Active() bool
	Timeout() Timeout
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Request is a Handle backed by net/http.
type Request struct {
	client *Client
	url    string
	body   Body
	opts   Options

	aborted atomic.Bool
	active  atomic.Bool

	mu     sync.Mutex
	sent   bool
	cancel context.CancelCauseFunc
}

// Timeout returns the request's timeout bounds.
func (r *Request) Timeout() Timeout {
	return r.opts.Timeout
}

// Aborted reports whether Abort has been called.
func (r *Request) Aborted() bool {
	return r.aborted.Load()
}

// Active reports whether the request is on the wire: sent and not yet
// completed.
func (r *Request) Active() bool {
	return r.active.Load()
}

// Abort asks the in-flight request to stop. The listener's Complete still
// fires, with ErrAborted. Aborting before Send makes Send complete
// immediately; aborting after completion has no effect on the outcome.
func (r *Request) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted.Swap(true) {
		return
	}

	r.client.logger.Debug("aborting request",
		slog.String("method", r.opts.Method),
		slog.String("url", r.url),
	)

	if r.cancel != nil {
		r.cancel(ErrAborted)
	}
}

// Send starts the request on its own goroutine. A request can be sent once;
// later calls are ignored.
func (r *Request) Send(l Listener) {
	r.mu.Lock()

	if r.sent {
		r.mu.Unlock()
		r.client.logger.Warn("request already sent, ignoring Send",
			slog.String("url", r.url),
		)

		return
	}

	r.sent = true

	ctx, cancel := context.WithCancelCause(context.Background())
	r.cancel = cancel

	if r.aborted.Load() {
		cancel(ErrAborted)
	}

	r.active.Store(true)
	r.mu.Unlock()

	go r.run(ctx, cancel, l)
}

func (r *Request) run(ctx context.Context, cancel context.CancelCauseFunc, l Listener) {
	defer cancel(nil)

	start := time.Now()
	resp, err := r.do(ctx, cancel, l.Progress)

	r.closeBody()
	r.active.Store(false)

	if err != nil {
		r.client.logger.Debug("request failed",
			slog.String("method", r.opts.Method),
			slog.String("url", r.url),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
	} else {
		r.client.logger.Debug("request succeeded",
			slog.String("method", r.opts.Method),
			slog.String("url", r.url),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	if l.Complete != nil {
		l.Complete(err, resp)
	}
}

// do performs the exchange. cancel is the root cancellation of ctx and is
// used by the first-byte timer so its cause reaches every derived context.
func (r *Request) do(
	ctx context.Context, cancel context.CancelCauseFunc, onProgress func(Progress),
) (*Response, error) {
	if d := r.opts.Timeout.Deadline; d > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, d, &TimeoutError{Kind: ErrDeadline, Limit: d})

		defer stop()
	}

	var firstByte *time.Timer
	if d := r.opts.Timeout.Response; d > 0 {
		firstByte = time.AfterFunc(d, func() {
			cancel(&TimeoutError{Kind: ErrResponseTimeout, Limit: d})
		})

		defer firstByte.Stop()
	}

	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			if firstByte != nil {
				firstByte.Stop()
			}
		},
	})

	req, err := r.newHTTPRequest(ctx, onProgress)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return nil, r.wrapErr(ctx, err)
	}
	defer resp.Body.Close()

	if r.opts.WithCredentials && r.client.jar != nil {
		r.client.jar.SetCookies(req.URL, resp.Cookies())
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, r.wrapErr(ctx, err)
	}

	out := decodeResponse(resp, raw)

	if !isSuccess(resp.StatusCode) {
		return out, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return out, nil
}

func (r *Request) newHTTPRequest(ctx context.Context, onProgress func(Progress)) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if r.body.Reader != nil {
		body = &progressReader{r: r.body.Reader, total: r.body.Size, fn: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, r.opts.Method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("transport: creating request: %w", err)
	}

	if r.body.Reader != nil && r.body.Size >= 0 {
		req.ContentLength = r.body.Size
	}

	if r.body.ContentType != "" {
		req.Header.Set("Content-Type", r.body.ContentType)
	}

	req.Header.Set("Accept", r.opts.Accept)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range r.opts.Headers {
		req.Header.Set(k, v)
	}

	if r.opts.WithCredentials && r.client.jar != nil {
		for _, ck := range r.client.jar.Cookies(req.URL) {
			req.AddCookie(ck)
		}
	}

	return req, nil
}

// wrapErr prefers the cancellation cause (abort or timeout) over the raw
// network error it produced.
func (r *Request) wrapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
	}

	return fmt.Errorf("transport: %s %s failed: %w", r.opts.Method, r.url, err)
}

func (r *Request) closeBody() {
	c, ok := r.body.Reader.(io.Closer)
	if !ok {
		return
	}

	if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		r.client.logger.Warn("closing request body",
			slog.String("url", r.url),
			slog.String("error", err.Error()),
		)
	}
}

// decodeResponse keeps JSON object payloads as a map and everything else as
// text.
func decodeResponse(resp *http.Response, raw []byte) *Response {
	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}

	if isJSON(resp.Header.Get("Content-Type")) && len(bytes.TrimSpace(raw)) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil {
			out.Body = obj

			return out
		}
	}

	out.Text = string(raw)

	return out
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// progressReader counts body bytes as net/http consumes them.
type progressReader struct {
	r      io.Reader
	loaded int64
	total  int64
	fn     func(Progress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)

		if p.fn != nil {
			p.fn(Progress{Loaded: p.loaded, Total: p.total})
		}
	}

	return n, err
}

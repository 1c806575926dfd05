package upload

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/upload-manager/internal/transport"
)

// fakeHandle is a transport.Handle driven by the test.
type fakeHandle struct {
	url  string
	opts transport.Options

	mu         sync.Mutex
	body       []byte
	bodyType   string
	bodySize   int64
	listener   transport.Listener
	sent       bool
	abortCalls int
	onSend     func()

	aborted atomic.Bool
	active  atomic.Bool
}

func (h *fakeHandle) Send(l transport.Listener) {
	h.mu.Lock()
	h.listener = l
	h.sent = true
	onSend := h.onSend
	h.mu.Unlock()

	h.active.Store(true)

	if onSend != nil {
		onSend()
	}
}

func (h *fakeHandle) Abort() {
	h.mu.Lock()
	h.abortCalls++
	h.mu.Unlock()

	h.aborted.Store(true)
}

func (h *fakeHandle) Aborted() bool { return h.aborted.Load() }

func (h *fakeHandle) Active() bool { return h.active.Load() }

func (h *fakeHandle) Timeout() transport.Timeout { return h.opts.Timeout }

// finish completes the request the way a transport would.
func (h *fakeHandle) finish(err error, resp *transport.Response) {
	h.active.Store(false)

	h.mu.Lock()
	l := h.listener
	h.mu.Unlock()

	l.Complete(err, resp)
}

func (h *fakeHandle) progress(loaded, total int64) {
	h.mu.Lock()
	l := h.listener
	h.mu.Unlock()

	l.Progress(transport.Progress{Loaded: loaded, Total: total})
}

func (h *fakeHandle) abortCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.abortCalls
}

// fakeTransport records prepared handles and reads their bodies eagerly so
// spool files are released.
type fakeTransport struct {
	mu      sync.Mutex
	handles []*fakeHandle
	onSend  func(h *fakeHandle)
}

func (t *fakeTransport) Prepare(url string, body transport.Body, opts transport.Options) transport.Handle {
	h := &fakeHandle{url: url, opts: opts, bodyType: body.ContentType, bodySize: body.Size}

	if body.Reader != nil {
		h.body, _ = io.ReadAll(body.Reader)

		if c, ok := body.Reader.(io.Closer); ok {
			_ = c.Close()
		}
	}

	t.mu.Lock()
	if t.onSend != nil {
		hook := t.onSend
		h.onSend = func() { hook(h) }
	}
	t.handles = append(t.handles, h)
	t.mu.Unlock()

	return h
}

func (t *fakeTransport) last(tb testing.TB) *fakeHandle {
	tb.Helper()

	t.mu.Lock()
	defer t.mu.Unlock()

	require.NotEmpty(tb, t.handles, "no request was prepared")

	return t.handles[len(t.handles)-1]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.handles)
}

// recorded is one callback invocation.
type recorded struct {
	kind string
	id   string
	ev   Event
}

// eventLog records callbacks in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []recorded
	ends   chan recorded
}

func newEventLog() *eventLog {
	return &eventLog{ends: make(chan recorded, 16)}
}

func (l *eventLog) add(kind string) Callback {
	return func(id string, ev Event) {
		r := recorded{kind: kind, id: id, ev: ev}

		l.mu.Lock()
		l.events = append(l.events, r)
		l.mu.Unlock()

		if kind == "end" {
			l.ends <- r
		}
	}
}

// wire installs the four lifecycle callbacks on cfg.
func (l *eventLog) wire(cfg *Config) {
	cfg.OnUploadStart = l.add("start")
	cfg.OnUploadProgress = l.add("progress")
	cfg.OnUploadAbort = l.add("abort")
	cfg.OnUploadEnd = l.add("end")
}

func (l *eventLog) all() []recorded {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]recorded(nil), l.events...)
}

func (l *eventLog) kinds() []string {
	var out []string
	for _, r := range l.all() {
		out = append(out, r.kind)
	}

	return out
}

func (l *eventLog) ofKind(kind string) []recorded {
	var out []recorded
	for _, r := range l.all() {
		if r.kind == kind {
			out = append(out, r)
		}
	}

	return out
}

func (l *eventLog) waitEnd(t *testing.T) recorded {
	t.Helper()

	select {
	case r := <-l.ends:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no OnUploadEnd within 5 seconds")
		return recorded{}
	}
}

// newTestCoordinator builds a coordinator over a fake transport with all
// callbacks recorded.
func newTestCoordinator(t *testing.T, mutate func(*Config)) (*Coordinator, *fakeTransport, *eventLog) {
	t.Helper()

	ft := &fakeTransport{}
	log := newEventLog()

	cfg := Config{
		UploadURL: "http://localhost:3000/api/upload",
		Request: transport.Options{
			Method:          "post",
			Accept:          "application/json",
			Timeout:         transport.Timeout{Response: time.Second, Deadline: time.Second},
			WithCredentials: true,
		},
		SpoolDir: t.TempDir(),
	}
	log.wire(&cfg)

	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg, ft)
	require.NoError(t, err)

	return c, ft, log
}

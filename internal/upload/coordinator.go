// Package upload coordinates concurrent multipart uploads keyed by file id.
// It tracks one session per in-flight file, reports lifecycle callbacks
// (start, progress, abort, end) and normalizes every outcome into a Result.
//
// Per file id, OnUploadStart is delivered first and OnUploadEnd exactly once,
// last. Progress is debounced per file. Callbacks may call back into the
// Coordinator, except Wait.
package upload

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tonimelisma/upload-manager/internal/debounce"
	"github.com/tonimelisma/upload-manager/internal/transport"
)

// Coordinator owns the id → session map. It is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	wg sync.WaitGroup
}

type sessionState int

const (
	stateStarting sessionState = iota
	stateStarted
	stateEnded
)

// session is the live state of one upload. Callback delivery for the
// session is ordered through mu/cond: end waits for in-flight progress and
// abort callbacks, and abort during start is deferred until start returns.
type session struct {
	id        string
	handle    transport.Handle
	progress  *debounce.Debouncer[float64]
	startedAt time.Time

	mu           sync.Mutex
	cond         *sync.Cond
	state        sessionState
	delivering   int
	abortPending bool
}

func newSession(id string, h transport.Handle, startedAt time.Time) *session {
	s := &session{id: id, handle: h, startedAt: startedAt}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// enter reserves a callback slot unless the session has ended.
func (s *session) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateEnded {
		return false
	}

	s.delivering++

	return true
}

func (s *session) leave() {
	s.mu.Lock()
	s.delivering--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// New validates cfg and creates a Coordinator driving t.
func New(cfg Config, t Transport) (*Coordinator, error) {
	if t == nil {
		return nil, fmt.Errorf("upload: transport must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	return &Coordinator{
		cfg:       cfg,
		transport: t,
		logger:    cfg.Logger,
		sessions:  make(map[string]*session),
	}, nil
}

// Upload starts uploading file to url, or to Config.UploadURL when url is
// empty. It returns an error only when the call itself is invalid; every
// outcome of the upload, including a body that cannot be built, is reported
// through OnUploadEnd.
func (c *Coordinator) Upload(url string, file File) error {
	if file.ID == "" {
		return ErrEmptyID
	}

	if url == "" {
		url = c.cfg.UploadURL
	}

	if url == "" {
		return ErrNoURL
	}

	if c.isActive(file.ID) {
		return fmt.Errorf("%w: %q", ErrSessionActive, file.ID)
	}

	body, buildErr := spoolBody(c.cfg.SpoolDir, c.cfg.FormDataParser, file.Data.clone())
	if buildErr != nil {
		c.failBeforeSend(file.ID, fmt.Errorf("upload: building request body: %w", buildErr))

		return nil
	}

	h := c.transport.Prepare(url, body, c.cfg.Request)

	s := newSession(file.ID, h, c.cfg.Clock.Now())
	s.progress = debounce.New(c.cfg.Clock, c.cfg.ProgressDebounce, func(v float64) {
		c.deliverProgress(s, v)
	})

	c.mu.Lock()
	if _, ok := c.sessions[file.ID]; ok {
		c.mu.Unlock()
		closeBody(body)

		return fmt.Errorf("%w: %q", ErrSessionActive, file.ID)
	}

	c.sessions[file.ID] = s
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("upload started",
		slog.String("id", file.ID),
		slog.String("url", url),
		slog.Int64("body_size", body.Size),
	)

	c.cfg.OnUploadStart(file.ID, Event{Status: StatusUploading})

	s.mu.Lock()
	s.state = stateStarted
	abortPending := s.abortPending
	if abortPending {
		s.delivering++
	}
	s.mu.Unlock()

	if abortPending {
		c.cfg.OnUploadAbort(file.ID, Event{Status: StatusAborted})
		s.leave()
	}

	h.Send(transport.Listener{
		Progress: func(p transport.Progress) {
			c.pushProgress(s, p.Percent())
		},
		Complete: func(err error, resp *transport.Response) {
			c.complete(s, err, resp)
		},
	})

	return nil
}

// failBeforeSend reports a failure that happened before a request existed:
// start, then end with the normalized error. Nothing is registered.
func (c *Coordinator) failBeforeSend(id string, err error) {
	c.logger.Warn("upload failed before sending",
		slog.String("id", id),
		slog.String("error", err.Error()),
	)

	result := c.cfg.ErrorHandler(err, nil)

	c.cfg.OnUploadStart(id, Event{Status: StatusUploading})
	c.cfg.OnUploadEnd(id, Event{Status: statusFor(result), Result: result})
}

// Abort asks the transport to stop the upload of file and reports
// OnUploadAbort. It is a no-op when no session exists for file.ID. The
// session ends when the transport completes.
func (c *Coordinator) Abort(file File) {
	s := c.lookup(file.ID)
	if s == nil {
		return
	}

	s.mu.Lock()

	switch s.state {
	case stateEnded:
		s.mu.Unlock()
		return
	case stateStarting:
		// OnUploadStart has not returned yet; Upload reports the abort
		// right after it does.
		if s.abortPending {
			s.mu.Unlock()
			return
		}

		s.abortPending = true
		s.mu.Unlock()
		s.handle.Abort()

		return
	case stateStarted:
	}

	s.delivering++
	s.mu.Unlock()

	c.logger.Info("aborting upload", slog.String("id", s.id))

	s.handle.Abort()
	c.cfg.OnUploadAbort(s.id, Event{Status: StatusAborted})
	s.leave()
}

// OnProgress records upload progress for id. It is suppressed when no
// session exists, the session was aborted, or its request is not on the
// wire. Deliveries are debounced per session.
func (c *Coordinator) OnProgress(id string, percent float64) {
	if s := c.lookup(id); s != nil {
		c.pushProgress(s, percent)
	}
}

func (c *Coordinator) pushProgress(s *session, percent float64) {
	if s.handle.Aborted() || !s.handle.Active() {
		return
	}

	s.progress.Push(percent)
}

func (c *Coordinator) deliverProgress(s *session, percent float64) {
	if s.handle.Aborted() {
		return
	}

	if !s.enter() {
		return
	}

	c.cfg.OnUploadProgress(s.id, Event{Status: StatusUploading, Progress: percent})
	s.leave()
}

// complete runs on the transport's completion: normalize, unregister, wait
// for callbacks already in flight, then report the end.
func (c *Coordinator) complete(s *session, err error, resp *transport.Response) {
	defer c.wg.Done()

	result := c.cfg.ErrorHandler(err, resp)

	c.mu.Lock()
	if c.sessions[s.id] == s {
		delete(c.sessions, s.id)
	}
	c.mu.Unlock()

	s.progress.Stop()

	s.mu.Lock()
	s.state = stateEnded
	for s.delivering > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	status := statusFor(result)
	elapsed := c.cfg.Clock.Since(s.startedAt)

	if result.Err != nil {
		c.logger.Warn("upload failed",
			slog.String("id", s.id),
			slog.Duration("elapsed", elapsed),
			slog.Bool("aborted", s.handle.Aborted()),
			slog.String("error", result.Err.Error()),
		)
	} else {
		c.logger.Info("upload finished",
			slog.String("id", s.id),
			slog.Duration("elapsed", elapsed),
		)
	}

	c.cfg.OnUploadEnd(s.id, Event{Status: status, Result: result})
}

func statusFor(r Result) Status {
	if r.Err != nil {
		return StatusError
	}

	return StatusDone
}

// Session returns a snapshot of the active session for id.
func (c *Coordinator) Session(id string) (SessionInfo, bool) {
	s := c.lookup(id)
	if s == nil {
		return SessionInfo{}, false
	}

	return s.info(), true
}

// Sessions returns snapshots of all active sessions, sorted by id.
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.Lock()
	out := make([]SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.info())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Len returns the number of active sessions.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sessions)
}

// Wait blocks until every started upload has delivered OnUploadEnd.
// It must not be called from a callback.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) lookup(id string) *session {
	if id == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessions[id]
}

func (c *Coordinator) isActive(id string) bool {
	return c.lookup(id) != nil
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Timeout:   s.handle.Timeout(),
		Aborted:   s.handle.Aborted(),
		Active:    s.handle.Active(),
		StartedAt: s.startedAt,
	}
}

func closeBody(b transport.Body) {
	if c, ok := b.Reader.(io.Closer); ok {
		_ = c.Close()
	}
}

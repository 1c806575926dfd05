package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/upload-manager/internal/transport"
	"github.com/tonimelisma/upload-manager/internal/upload"
)

// checksumField carries the hex SHA-256 of the file when upload.checksum
// is enabled. The receiver verifies it against the stored bytes.
const checksumField = "sha256"

// maxConcurrentPrepare bounds how many files are stat'ed and hashed at once.
const maxConcurrentPrepare = 4

// localFile is a file on disk ready to be handed to the coordinator.
type localFile struct {
	File upload.File
	Path string
	Size int64
}

// newCoordinator builds a Coordinator from the resolved upload config.
// hooks supplies the lifecycle callbacks; everything else comes from cfg.
func newCoordinator(cc *CLIContext, hooks upload.Config) (*upload.Coordinator, error) {
	u := cc.Cfg.Upload

	response, deadline, err := u.Timeouts()
	if err != nil {
		return nil, err
	}

	debounce, err := u.Debounce()
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	client := transport.NewClient(&http.Client{}, jar, cc.Logger)

	hooks.UploadURL = u.URL
	hooks.Request = transport.Options{
		Method:          u.Method,
		Accept:          u.Accept,
		Headers:         u.Headers,
		Timeout:         transport.Timeout{Response: response, Deadline: deadline},
		WithCredentials: u.WithCredentials,
	}
	hooks.FieldName = u.FieldName
	hooks.ErrorHandler = upload.ErrorFieldHandler(u.ErrorField)
	hooks.ProgressDebounce = debounce
	hooks.Logger = cc.Logger

	return upload.New(hooks, client)
}

// prepareFile stats path and builds its upload.File with a fresh id.
func prepareFile(ctx context.Context, path string, checksum bool) (localFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return localFile{}, fmt.Errorf("stating local file: %w", err)
	}

	if !fi.Mode().IsRegular() {
		return localFile{}, fmt.Errorf("%q is not a regular file", path)
	}

	data := upload.FileData{
		Name: filepath.Base(path),
		Path: path,
	}

	if checksum {
		sum, err := hashFile(ctx, path)
		if err != nil {
			return localFile{}, err
		}

		data.Fields = map[string]string{checksumField: sum}
	}

	return localFile{
		File: upload.File{ID: uuid.NewString(), Data: data},
		Path: path,
		Size: fi.Size(),
	}, nil
}

// prepareFiles prepares every path concurrently. Results keep the order of
// paths; the first failure cancels the rest.
func prepareFiles(ctx context.Context, paths []string, checksum bool) ([]localFile, error) {
	files := make([]localFile, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPrepare)

	for i, path := range paths {
		g.Go(func() error {
			f, err := prepareFile(gctx, path, checksum)
			if err != nil {
				return err
			}

			files[i] = f

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return files, nil
}

// hashFile returns the hex SHA-256 of the file at path.
func hashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: f}); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}

// resultRecorder keeps the end event of every upload by id.
type resultRecorder struct {
	mu     sync.Mutex
	events map[string]upload.Event
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{events: make(map[string]upload.Event)}
}

func (r *resultRecorder) record(id string, ev upload.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[id] = ev
}

func (r *resultRecorder) get(id string) (upload.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[id]

	return ev, ok
}

// progressReporter renders upload lifecycle events. On a terminal progress
// redraws one line per file; otherwise only start and end are printed.
type progressReporter struct {
	w     io.Writer
	quiet bool
	tty   bool

	mu    sync.Mutex
	names map[string]string
}

func newProgressReporter(w io.Writer, quiet, tty bool) *progressReporter {
	return &progressReporter{
		w:     w,
		quiet: quiet,
		tty:   tty,
		names: make(map[string]string),
	}
}

// track registers the display name of id.
func (p *progressReporter) track(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.names[id] = name
}

func (p *progressReporter) name(id string) string {
	if n, ok := p.names[id]; ok {
		return n
	}

	return id
}

func (p *progressReporter) start(id string, _ upload.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	statusf(p.w, p.quiet, "Uploading %s\n", p.name(id))
}

func (p *progressReporter) progress(id string, ev upload.Event) {
	if !p.tty {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	statusf(p.w, p.quiet, "\r\033[K%s %s", progressBar(ev.Progress), p.name(id))
}

func (p *progressReporter) abort(id string, _ upload.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	statusf(p.w, p.quiet, "%sAborting %s\n", p.clearLine(), p.name(id))
}

// end is the last event for id, so its display name is forgotten.
func (p *progressReporter) end(id string, ev upload.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer delete(p.names, id)

	if ev.Result.Err != nil {
		statusf(p.w, p.quiet, "%sFailed %s: %v\n", p.clearLine(), p.name(id), ev.Result.Err)
		return
	}

	statusf(p.w, p.quiet, "%sUploaded %s\n", p.clearLine(), p.name(id))
}

func (p *progressReporter) clearLine() string {
	if p.tty {
		return "\r\033[K"
	}

	return ""
}

// hooks wires the reporter into coordinator callbacks. A non-nil rec also
// keeps every end event.
func (p *progressReporter) hooks(rec *resultRecorder) upload.Config {
	cfg := upload.Config{
		OnUploadStart:    p.start,
		OnUploadProgress: p.progress,
		OnUploadAbort:    p.abort,
		OnUploadEnd:      p.end,
	}

	if rec != nil {
		cfg.OnUploadEnd = func(id string, ev upload.Event) {
			rec.record(id, ev)
			p.end(id, ev)
		}
	}

	return cfg
}

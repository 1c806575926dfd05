// Package watch turns a drop folder into a stream of settled files. A file
// is reported once writes to it have been quiet for the settle interval,
// so half-written files are not picked up.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/upload-manager/internal/debounce"
)

const (
	// DefaultSettle is the quiet period used when Options.Settle is zero.
	DefaultSettle = 500 * time.Millisecond

	errInitBackoff = 100 * time.Millisecond
	errMaxBackoff  = 5 * time.Second
)

// FsWatcher is the subset of fsnotify.Watcher the watcher needs.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// Options configures a Watcher.
type Options struct {
	Dir          string
	Settle       time.Duration // quiet period before a file is reported
	ScanExisting bool          // report regular files already in Dir at start
	Clock        clock.Clock
}

// Watcher reports settled files in one directory. Subdirectories are not
// watched.
type Watcher struct {
	dir          string
	settle       time.Duration
	scanExisting bool
	clk          clock.Clock
	logger       *slog.Logger

	newFsWatcher func() (FsWatcher, error)

	mu      sync.Mutex
	pending map[string]*debounce.Debouncer[string]
}

// New validates opts and creates a Watcher. Nothing is watched until Run.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Settle < 0 {
		return nil, fmt.Errorf("watch: settle interval must not be negative, got %s", opts.Settle)
	}

	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", opts.Dir)
	}

	return &Watcher{
		dir:          opts.Dir,
		settle:       opts.Settle,
		scanExisting: opts.ScanExisting,
		clk:          opts.Clock,
		logger:       logger,
		newFsWatcher: newFsnotifyWatcher,
		pending:      make(map[string]*debounce.Debouncer[string]),
	}, nil
}

// Run watches the directory until ctx is canceled, calling emit with the
// path of each settled regular file. emit runs on the Run goroutine.
func (w *Watcher) Run(ctx context.Context, emit func(path string)) error {
	fsw, err := w.newFsWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: adding %s: %w", w.dir, err)
	}

	w.logger.Info("watching directory",
		slog.String("dir", w.dir),
		slog.Duration("settle", w.settle),
	)

	ready := make(chan string)
	defer w.stopAll()

	if w.scanExisting {
		for _, path := range w.existingFiles() {
			emit(path)
		}
	}

	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events():
			if !ok {
				return nil
			}

			w.handle(ctx, ev, ready)

			errBackoff = errInitBackoff

		case path := <-ready:
			if w.isRegular(path) {
				emit(path)
			}

		case watchErr, ok := <-fsw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if err := w.sleep(ctx, errBackoff); err != nil {
				return nil
			}

			errBackoff = min(errBackoff*2, errMaxBackoff)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event, ready chan<- string) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	name := norm.NFC.String(filepath.Base(ev.Name))
	if isExcluded(name) {
		w.logger.Debug("watch: skipping excluded file", slog.String("name", name))
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name, ready)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
	}
}

// schedule restarts the settle window for path. The path is emitted once no
// event for it has arrived for a full window.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.pending[path]
	if !ok {
		d = debounce.NewTrailing(w.clk, w.settle, func(p string) {
			w.mu.Lock()
			delete(w.pending, p)
			w.mu.Unlock()

			select {
			case ready <- p:
			case <-ctx.Done():
			}
		})
		w.pending[path] = d
	}

	d.Push(path)
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	d, ok := w.pending[path]
	delete(w.pending, path)
	w.mu.Unlock()

	if ok {
		d.Stop()
		w.logger.Debug("watch: file removed before settling", slog.String("path", path))
	}
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]*debounce.Debouncer[string])
	w.mu.Unlock()

	for _, d := range pending {
		d.Stop()
	}
}

// Pending returns the number of files waiting to settle.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.pending)
}

func (w *Watcher) existingFiles() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scanning watch directory", slog.String("dir", w.dir), slog.String("error", err.Error()))
		return nil
	}

	var out []string

	for _, e := range entries {
		if !e.Type().IsRegular() || isExcluded(norm.NFC.String(e.Name())) {
			continue
		}

		out = append(out, filepath.Join(w.dir, e.Name()))
	}

	sort.Strings(out)

	return out
}

func (w *Watcher) isRegular(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("stat settled file", slog.String("path", path), slog.String("error", err.Error()))
		}

		return false
	}

	return info.Mode().IsRegular()
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) error {
	t := w.clk.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// excludedSuffixes are in-progress or scratch files that must never be sent.
var excludedSuffixes = []string{".partial", ".tmp", ".swp", ".crdownload", "~"}

// isExcluded reports whether a file name is hidden or temporary.
func isExcluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}

	lower := strings.ToLower(name)
	for _, s := range excludedSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}

	return false
}

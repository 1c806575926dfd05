package upload

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/upload-manager/internal/transport"
)

func testFile(id string) File {
	return File{
		ID: id,
		Data: FileData{
			Name:    "photo.png",
			Content: []byte("png bytes"),
			Fields:  map[string]string{"album": "holiday"},
		},
	}
}

// --- New ---

func TestNew_RejectsNilTransport(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestNew_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"method without body", Config{Request: transport.Options{Method: "GET"}}},
		{"negative debounce", Config{ProgressDebounce: -time.Millisecond}},
		{"non-http url", Config{UploadURL: "ftp://example.com/upload"}},
		{"url without host", Config{UploadURL: "http:///upload"}},
		{"negative deadline", Config{Request: transport.Options{Timeout: transport.Timeout{Deadline: -1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &fakeTransport{})
			assert.Error(t, err)
		})
	}
}

func TestNew_ZeroConfigIsValid(t *testing.T) {
	c, err := New(Config{}, &fakeTransport{})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

// --- Upload ---

func TestUpload_StartThenEndOnSuccess(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))

	assert.Equal(t, []string{"start"}, log.kinds())
	assert.Equal(t, StatusUploading, log.all()[0].ev.Status)
	assert.Equal(t, 1, c.Len())

	h := ft.last(t)
	h.finish(nil, &transport.Response{StatusCode: 200, Body: map[string]any{"success": true}})

	end := log.waitEnd(t)
	assert.Equal(t, "f1", end.id)
	assert.Equal(t, StatusDone, end.ev.Status)
	assert.NoError(t, end.ev.Result.Err)
	assert.Equal(t, map[string]any{"success": true}, end.ev.Result.Body)

	assert.Equal(t, []string{"start", "end"}, log.kinds())
	assert.Equal(t, 0, c.Len())
}

func TestUpload_UsesConfiguredURLAndOptions(t *testing.T) {
	c, ft, _ := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))

	h := ft.last(t)
	assert.Equal(t, "http://localhost:3000/api/upload", h.url)
	assert.Equal(t, "post", h.opts.Method)
	assert.True(t, h.opts.WithCredentials)
	assert.Equal(t, time.Second, h.opts.Timeout.Response)
}

func TestUpload_ExplicitURLOverridesConfig(t *testing.T) {
	c, ft, _ := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("http://other.example.com/up", testFile("f1")))
	assert.Equal(t, "http://other.example.com/up", ft.last(t).url)
}

func TestUpload_RejectsEmptyID(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	err := c.Upload("", File{})
	require.ErrorIs(t, err, ErrEmptyID)
	assert.Empty(t, log.all())
	assert.Equal(t, 0, ft.count())
}

func TestUpload_RejectsMissingURL(t *testing.T) {
	c, ft, log := newTestCoordinator(t, func(cfg *Config) { cfg.UploadURL = "" })

	err := c.Upload("", testFile("f1"))
	require.ErrorIs(t, err, ErrNoURL)
	assert.Empty(t, log.all())
	assert.Equal(t, 0, ft.count())
}

func TestUpload_RejectsDuplicateActiveID(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))

	err := c.Upload("", testFile("f1"))
	require.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, 1, ft.count())
	assert.Equal(t, []string{"start"}, log.kinds())

	ft.last(t).finish(nil, &transport.Response{StatusCode: 200})
	log.waitEnd(t)

	// Once ended, the id may be reused.
	require.NoError(t, c.Upload("", testFile("f1")))
	assert.Equal(t, 2, ft.count())
}

func TestUpload_RegistersSessionBeforeSend(t *testing.T) {
	c, ft, _ := newTestCoordinator(t, nil)

	var registered bool
	ft.onSend = func(*fakeHandle) {
		_, registered = c.Session("f1")
	}

	require.NoError(t, c.Upload("", testFile("f1")))
	assert.True(t, registered)
}

func TestUpload_TransportFailureEndsWithError(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))
	ft.last(t).finish(errors.New("not found"), nil)

	end := log.waitEnd(t)
	assert.Equal(t, StatusError, end.ev.Status)
	require.Error(t, end.ev.Result.Err)
	assert.Equal(t, "not found", end.ev.Result.Err.Error())

	var te *TransportError
	assert.ErrorAs(t, end.ev.Result.Err, &te)
	assert.Nil(t, end.ev.Result.Body)
}

func TestUpload_ApplicationErrorEndsWithError(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))
	ft.last(t).finish(nil, &transport.Response{
		StatusCode: 200,
		Body:       map[string]any{"errors": "Boom", "id": "42"},
	})

	end := log.waitEnd(t)
	assert.Equal(t, StatusError, end.ev.Status)
	require.Error(t, end.ev.Result.Err)
	assert.Equal(t, "Boom", end.ev.Result.Err.Error())
	assert.Equal(t, map[string]any{"id": "42"}, end.ev.Result.Body)
}

func TestUpload_DoesNotMutateFile(t *testing.T) {
	mutating := func(w *multipart.Writer, data FileData) error {
		data.Fields["album"] = "mutated"
		data.Content[0] = 'Z'
		data.Name = "renamed"

		return w.WriteField("k", "v")
	}

	c, ft, _ := newTestCoordinator(t, func(cfg *Config) { cfg.FormDataParser = mutating })

	file := testFile("f1")
	snapshot := File{
		ID: "f1",
		Data: FileData{
			Name:    "photo.png",
			Content: []byte("png bytes"),
			Fields:  map[string]string{"album": "holiday"},
		},
	}

	require.NoError(t, c.Upload("", file))
	ft.last(t).finish(nil, &transport.Response{StatusCode: 200})

	assert.Equal(t, snapshot, file)
}

func TestUpload_PassesFileDataToParser(t *testing.T) {
	var got FileData

	parser := func(w *multipart.Writer, data FileData) error {
		got = data
		return w.WriteField("custom", "yes")
	}

	c, ft, _ := newTestCoordinator(t, func(cfg *Config) { cfg.FormDataParser = parser })

	file := testFile("f1")
	require.NoError(t, c.Upload("", file))

	assert.Equal(t, file.Data, got)

	parts := readParts(t, ft.last(t))
	require.Len(t, parts, 1)
	assert.Equal(t, "custom", parts[0].field)
	assert.Equal(t, "yes", parts[0].content)
}

func TestUpload_BodyBuildFailureEndsWithError(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	file := File{ID: "f1", Data: FileData{Path: filepath.Join(t.TempDir(), "missing.bin")}}
	require.NoError(t, c.Upload("", file))

	assert.Equal(t, []string{"start", "end"}, log.kinds())

	end := log.ofKind("end")[0]
	assert.Equal(t, StatusError, end.ev.Status)
	require.Error(t, end.ev.Result.Err)
	assert.Contains(t, end.ev.Result.Err.Error(), "missing.bin")

	assert.Equal(t, 0, ft.count())
	assert.Equal(t, 0, c.Len())
}

func TestUpload_SpoolFileRemovedAfterSend(t *testing.T) {
	dir := t.TempDir()
	c, ft, log := newTestCoordinator(t, func(cfg *Config) { cfg.SpoolDir = dir })

	require.NoError(t, c.Upload("", testFile("f1")))
	ft.last(t).finish(nil, &transport.Response{StatusCode: 200})
	log.waitEnd(t)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_EndCallbackMayRestartSameID(t *testing.T) {
	var c *Coordinator

	restarted := make(chan error, 1)

	c, ft, log := newTestCoordinator(t, func(cfg *Config) {
		prev := cfg.OnUploadEnd
		cfg.OnUploadEnd = func(id string, ev Event) {
			prev(id, ev)
			restarted <- c.Upload("", testFile(id))
		}
	})

	require.NoError(t, c.Upload("", testFile("f1")))
	ft.last(t).finish(errors.New("reset"), nil)

	log.waitEnd(t)
	require.NoError(t, <-restarted)
	assert.Equal(t, 2, ft.count())
	assert.Equal(t, 1, c.Len())
}

// --- Abort ---

func TestAbort_NoSessionIsNoop(t *testing.T) {
	c, _, log := newTestCoordinator(t, nil)

	assert.NotPanics(t, func() {
		c.Abort(File{})
		c.Abort(File{ID: "unknown"})
	})
	assert.Empty(t, log.all())
}

func TestAbort_ActiveSession(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	file := testFile("f1")
	require.NoError(t, c.Upload("", file))

	h := ft.last(t)
	c.Abort(file)

	assert.Equal(t, 1, h.abortCount())
	assert.True(t, h.Aborted())
	assert.Equal(t, []string{"start", "abort"}, log.kinds())
	assert.Equal(t, StatusAborted, log.ofKind("abort")[0].ev.Status)

	// The session stays until the transport reports completion.
	info, ok := c.Session("f1")
	require.True(t, ok)
	assert.True(t, info.Aborted)

	h.finish(transport.ErrAborted, nil)

	end := log.waitEnd(t)
	assert.Equal(t, StatusError, end.ev.Status)
	assert.Equal(t, transport.ErrAborted.Error(), end.ev.Result.Err.Error())
	assert.Equal(t, []string{"start", "abort", "end"}, log.kinds())

	// Abort after end does nothing.
	c.Abort(file)
	assert.Equal(t, 1, h.abortCount())
	assert.Len(t, log.ofKind("abort"), 1)
}

func TestAbort_FromStartCallback(t *testing.T) {
	var c *Coordinator

	c, ft, log := newTestCoordinator(t, func(cfg *Config) {
		prev := cfg.OnUploadStart
		cfg.OnUploadStart = func(id string, ev Event) {
			prev(id, ev)
			c.Abort(File{ID: id})
			c.Abort(File{ID: id})
		}
	})

	require.NoError(t, c.Upload("", testFile("f1")))

	h := ft.last(t)
	assert.True(t, h.Aborted())
	assert.Equal(t, 1, h.abortCount())
	assert.Equal(t, []string{"start", "abort"}, log.kinds())

	h.finish(transport.ErrAborted, nil)
	log.waitEnd(t)
	assert.Equal(t, []string{"start", "abort", "end"}, log.kinds())
}

// --- Progress ---

func TestOnProgress_Debounced(t *testing.T) {
	mock := clock.NewMock()
	c, ft, log := newTestCoordinator(t, func(cfg *Config) {
		cfg.Clock = mock
		cfg.ProgressDebounce = 100 * time.Millisecond
	})

	require.NoError(t, c.Upload("", testFile("f1")))
	_ = ft.last(t)

	c.OnProgress("f1", 10)
	c.OnProgress("f1", 20)
	c.OnProgress("f1", 30)

	assert.Empty(t, log.ofKind("progress"))

	mock.Add(100 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(log.ofKind("progress")) == 1
	}, time.Second, 5*time.Millisecond)

	p := log.ofKind("progress")[0]
	assert.Equal(t, "f1", p.id)
	assert.Equal(t, StatusUploading, p.ev.Status)
	assert.InDelta(t, 30.0, p.ev.Progress, 0.001)

	mock.Add(time.Second)
	assert.Never(t, func() bool {
		return len(log.ofKind("progress")) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestOnProgress_FromTransport(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))
	ft.last(t).progress(5, 10)

	progress := log.ofKind("progress")
	require.Len(t, progress, 1)
	assert.InDelta(t, 50.0, progress[0].ev.Progress, 0.001)
}

func TestOnProgress_UnknownIDIsNoop(t *testing.T) {
	c, _, log := newTestCoordinator(t, nil)

	c.OnProgress("nobody", 50)
	c.OnProgress("", 50)

	assert.Empty(t, log.all())
}

func TestOnProgress_SuppressedWhenAborted(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	file := testFile("f1")
	require.NoError(t, c.Upload("", file))
	_ = ft.last(t)

	c.Abort(file)
	c.OnProgress("f1", 50)

	assert.Empty(t, log.ofKind("progress"))
}

func TestOnProgress_SuppressedWhenInactive(t *testing.T) {
	c, ft, log := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("f1")))

	h := ft.last(t)
	h.active.Store(false)
	c.OnProgress("f1", 50)

	assert.Empty(t, log.ofKind("progress"))
}

func TestOnProgress_PendingDroppedAtEnd(t *testing.T) {
	mock := clock.NewMock()
	c, ft, log := newTestCoordinator(t, func(cfg *Config) {
		cfg.Clock = mock
		cfg.ProgressDebounce = 100 * time.Millisecond
	})

	require.NoError(t, c.Upload("", testFile("f1")))

	h := ft.last(t)
	c.OnProgress("f1", 50)
	h.finish(nil, &transport.Response{StatusCode: 200})
	log.waitEnd(t)

	mock.Add(time.Second)
	assert.Never(t, func() bool {
		return len(log.ofKind("progress")) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"start", "end"}, log.kinds())
}

// --- Session queries ---

func TestSessions_SortedSnapshot(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	c, ft, log := newTestCoordinator(t, func(cfg *Config) { cfg.Clock = mock })

	require.NoError(t, c.Upload("", testFile("b")))
	require.NoError(t, c.Upload("", testFile("a")))

	sessions := c.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
	assert.True(t, sessions[0].Active)
	assert.False(t, sessions[0].Aborted)
	assert.Equal(t, mock.Now(), sessions[0].StartedAt)
	assert.Equal(t, transport.Timeout{Response: time.Second, Deadline: time.Second}, sessions[0].Timeout)

	_, ok := c.Session("missing")
	assert.False(t, ok)

	ft.mu.Lock()
	handles := append([]*fakeHandle(nil), ft.handles...)
	ft.mu.Unlock()

	for _, h := range handles {
		h.finish(nil, &transport.Response{StatusCode: 200})
		log.waitEnd(t)
	}

	assert.Empty(t, c.Sessions())
}

func TestWait_ReturnsAfterAllEnds(t *testing.T) {
	c, ft, _ := newTestCoordinator(t, nil)

	require.NoError(t, c.Upload("", testFile("a")))
	require.NoError(t, c.Upload("", testFile("b")))

	ft.mu.Lock()
	handles := append([]*fakeHandle(nil), ft.handles...)
	ft.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)

		go func() {
			defer wg.Done()
			h.finish(nil, &transport.Response{StatusCode: 200})
		}()
	}

	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}

	assert.Equal(t, 0, c.Len())
}

// --- helpers ---

type part struct {
	field    string
	filename string
	ctype    string
	content  string
}

func readParts(t *testing.T, h *fakeHandle) []part {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(h.bodyType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)
	assert.Equal(t, int64(len(h.body)), h.bodySize)

	r := multipart.NewReader(bytes.NewReader(h.body), params["boundary"])

	var parts []part

	for {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)

		b, err := io.ReadAll(p)
		require.NoError(t, err)

		parts = append(parts, part{
			field:    p.FormName(),
			filename: p.FileName(),
			ctype:    p.Header.Get("Content-Type"),
			content:  string(b),
		})
	}

	return parts
}

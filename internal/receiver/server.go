// Package receiver is the HTTP endpoint that accepts multipart uploads. It
// stores each file part in a temp file, optionally verifies a client-sent
// SHA-256, deletes the file and replies with a JSON summary the uploader's
// error normalization understands.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultUploadPath = "/upload"
	defaultFieldName  = "file"
	checksumField     = "sha256"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Listen        string
	UploadPath    string // defaults to /upload
	FieldName     string // multipart field holding the file, defaults to "file"
	StaticDir     string // serves index.html at / and other files when set
	MaxUploadSize int64  // request body limit in bytes, 0 = unlimited
	TempDir       string // where received files are stored, defaults to os.TempDir()
}

// Server serves the upload route and optional static files.
type Server struct {
	opts   Options
	logger *slog.Logger
	engine *gin.Engine
}

// New builds a Server and its routes.
func New(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.UploadPath == "" {
		opts.UploadPath = defaultUploadPath
	}

	if opts.FieldName == "" {
		opts.FieldName = defaultFieldName
	}

	s := &Server{opts: opts, logger: logger}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.HandleMethodNotAllowed = true

	engine.GET("/", s.handleIndex)
	engine.POST(opts.UploadPath, s.handleUpload)
	engine.NoRoute(s.handleStatic)

	s.engine = engine

	return s
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe listens on Options.Listen and serves until ctx is canceled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("receiver: listening on %s: %w", s.opts.Listen, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("receiver listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("upload_path", s.opts.UploadPath),
	)

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("receiver: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("receiver shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("receiver: shutdown: %w", err)
	}

	return nil
}

// requestLogger logs each request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}

		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", c.Writer.Size()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

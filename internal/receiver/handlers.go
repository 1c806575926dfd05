package receiver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/unicode/norm"
)

// FileInfo describes a received file in the reply.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// Reply is the JSON body of an upload response. Errors is omitted on
// success so the uploader treats the reply as clean.
type Reply struct {
	Success bool        `json:"success"`
	File    *FileInfo   `json:"file,omitempty"`
	Errors  *ReplyError `json:"errors,omitempty"`
}

// ReplyError is the application error object.
type ReplyError struct {
	Message string `json:"message"`
}

var errChecksumMismatch = errors.New("receiver: sha256 mismatch")

func failure(msg string) Reply {
	return Reply{Errors: &ReplyError{Message: msg}}
}

func (s *Server) handleIndex(c *gin.Context) {
	if s.opts.StaticDir == "" {
		c.JSON(http.StatusNotFound, failure("no static directory configured"))
		return
	}

	index := filepath.Join(s.opts.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, failure("index.html not found"))
		return
	}

	c.File(index)
}

func (s *Server) handleStatic(c *gin.Context) {
	if s.opts.StaticDir == "" || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
		c.JSON(http.StatusNotFound, failure("not found"))
		return
	}

	http.FileServer(gin.Dir(s.opts.StaticDir, false)).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleUpload(c *gin.Context) {
	if limit := s.opts.MaxUploadSize; limit > 0 {
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, failure(fmt.Sprintf("upload exceeds %d bytes", limit)))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	fh, err := c.FormFile(s.opts.FieldName)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, failure(fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}

		s.logger.Warn("upload without file part",
			slog.String("field", s.opts.FieldName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, failure(fmt.Sprintf("missing %q file field", s.opts.FieldName)))

		return
	}

	info, sum, err := s.store(fh)
	if err != nil {
		s.logger.Error("storing upload", slog.String("name", fh.Filename), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, failure("storing upload failed"))

		return
	}

	verifyErr := verifyChecksum(c.PostForm(checksumField), sum)
	removeErr := os.Remove(info.Path)

	s.logger.Info("received upload",
		slog.String("name", info.Name),
		slog.Int64("size", info.Size),
		slog.String("type", info.Type),
		slog.String("sha256", sum),
	)

	reply := Reply{Success: true, File: &info}

	switch {
	case verifyErr != nil:
		reply.Success = false
		reply.Errors = &ReplyError{Message: verifyErr.Error()}
	case removeErr != nil:
		s.logger.Warn("removing stored upload", slog.String("path", info.Path), slog.String("error", removeErr.Error()))
		reply.Success = false
		reply.Errors = &ReplyError{Message: "removing stored upload failed"}
	}

	c.JSON(http.StatusOK, reply)
}

// store copies the part into a temp file, hashing it on the way.
func (s *Server) store(fh *multipart.FileHeader) (FileInfo, string, error) {
	src, err := fh.Open()
	if err != nil {
		return FileInfo{}, "", fmt.Errorf("opening part: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.opts.TempDir, "received-*")
	if err != nil {
		return FileInfo{}, "", fmt.Errorf("creating temp file: %w", err)
	}

	h := sha256.New()

	n, copyErr := io.Copy(io.MultiWriter(dst, h), src)
	closeErr := dst.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(dst.Name())
		return FileInfo{}, "", fmt.Errorf("writing %s: %w", dst.Name(), err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return FileInfo{
		Name: norm.NFC.String(fh.Filename),
		Size: n,
		Type: contentType,
		Path: dst.Name(),
	}, hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksum compares a client-sent hex digest with the stored bytes'.
// An empty claim skips verification.
func verifyChecksum(claimed, actual string) error {
	claimed = strings.TrimSpace(claimed)
	if claimed == "" {
		return nil
	}

	if !strings.EqualFold(claimed, actual) {
		return fmt.Errorf("%w: got %s, stored %s", errChecksumMismatch, claimed, actual)
	}

	return nil
}

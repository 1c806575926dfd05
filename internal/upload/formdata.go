package upload

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/upload-manager/internal/transport"
)

const defaultContentType = "application/octet-stream"

// FormDataParser writes a file's data into a fresh multipart body. It must
// not close w.
type FormDataParser func(w *multipart.Writer, data FileData) error

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// FieldFormDataParser returns the default parser: extra fields first in key
// order, then the file part under field. File names are NFC-normalized so
// names from decomposing filesystems arrive in composed form.
func FieldFormDataParser(field string) FormDataParser {
	return func(w *multipart.Writer, data FileData) error {
		keys := make([]string, 0, len(data.Fields))
		for k := range data.Fields {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			if err := w.WriteField(k, data.Fields[k]); err != nil {
				return fmt.Errorf("writing field %q: %w", k, err)
			}
		}

		if data.Path == "" && data.Content == nil {
			return nil
		}

		return writeFilePart(w, field, data)
	}
}

func writeFilePart(w *multipart.Writer, field string, data FileData) error {
	name := data.Name
	if name == "" && data.Path != "" {
		name = filepath.Base(data.Path)
	}

	name = norm.NFC.String(name)

	contentType := data.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}

	if contentType == "" {
		contentType = defaultContentType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}

	if data.Path == "" {
		if _, err := io.Copy(part, bytes.NewReader(data.Content)); err != nil {
			return fmt.Errorf("writing file part: %w", err)
		}

		return nil
	}

	f, err := os.Open(data.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", data.Path, err)
	}
	defer f.Close()

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading %s: %w", data.Path, err)
	}

	return nil
}

// spoolBody runs parser into a temp file under dir and returns it as a
// request body with a known size. The file is removed when the body is
// closed.
func spoolBody(dir string, parser FormDataParser, data FileData) (transport.Body, error) {
	f, err := os.CreateTemp(dir, "upload-*.multipart")
	if err != nil {
		return transport.Body{}, fmt.Errorf("creating spool file: %w", err)
	}

	sf := &spoolFile{File: f}

	bw := bufio.NewWriter(f)
	mw := multipart.NewWriter(bw)

	if err := parser(mw, data); err != nil {
		sf.Close()
		return transport.Body{}, err
	}

	if err := mw.Close(); err != nil {
		sf.Close()
		return transport.Body{}, fmt.Errorf("finishing multipart body: %w", err)
	}

	if err := bw.Flush(); err != nil {
		sf.Close()
		return transport.Body{}, fmt.Errorf("flushing spool file: %w", err)
	}

	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		sf.Close()
		return transport.Body{}, fmt.Errorf("sizing spool file: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		sf.Close()
		return transport.Body{}, fmt.Errorf("rewinding spool file: %w", err)
	}

	return transport.Body{
		Reader:      sf,
		ContentType: mw.FormDataContentType(),
		Size:        size,
	}, nil
}

// spoolFile deletes itself on Close.
type spoolFile struct {
	*os.File

	once sync.Once
	err  error
}

func (s *spoolFile) Close() error {
	s.once.Do(func() {
		closeErr := s.File.Close()
		removeErr := os.Remove(s.File.Name())

		switch {
		case closeErr != nil:
			s.err = closeErr
		case removeErr != nil && !os.IsNotExist(removeErr):
			s.err = removeErr
		}
	})

	return s.err
}

package upload

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tonimelisma/upload-manager/internal/transport"
)

// Defaults applied by the config layer and by callers that want the widget's
// stock behavior.
const (
	DefaultFieldName        = "file"
	DefaultProgressDebounce = 100 * time.Millisecond
)

// Transport prepares requests. Satisfied by *transport.Client.
type Transport interface {
	Prepare(url string, body transport.Body, opts transport.Options) transport.Handle
}

// Config configures a Coordinator. Every field is optional.
type Config struct {
	// UploadURL is used when Upload is called with an empty url.
	UploadURL string

	// Request holds method, accept header, headers, timeout bounds and
	// credentials policy. Method defaults to POST.
	Request transport.Options

	// FieldName is the multipart field of the file part written by the
	// default parser. Defaults to "file".
	FieldName string

	// FormDataParser builds the multipart body. Defaults to
	// FieldFormDataParser(FieldName).
	FormDataParser FormDataParser

	// ErrorHandler normalizes outcomes. Defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// ProgressDebounce is the minimum interval between progress deliveries
	// for one file. Zero delivers every progress event.
	ProgressDebounce time.Duration

	// SpoolDir holds request bodies while they are sent. Defaults to the
	// system temp directory.
	SpoolDir string

	OnUploadStart    Callback
	OnUploadProgress Callback
	OnUploadAbort    Callback
	OnUploadEnd      Callback

	// Clock drives progress debouncing. Defaults to the wall clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Validate checks the configuration and returns all errors found.
func (c Config) Validate() error {
	var errs []error

	if err := c.Request.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.ProgressDebounce < 0 {
		errs = append(errs, fmt.Errorf("upload: progress debounce must not be negative, got %s", c.ProgressDebounce))
	}

	if c.UploadURL != "" {
		if err := validateURL(c.UploadURL); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upload: invalid upload url %q: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upload: upload url %q must use http or https", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("upload: upload url %q has no host", raw)
	}

	return nil
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	noop := func(string, Event) {}

	if c.FieldName == "" {
		c.FieldName = DefaultFieldName
	}

	if c.FormDataParser == nil {
		c.FormDataParser = FieldFormDataParser(c.FieldName)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = DefaultErrorHandler
	}

	if c.OnUploadStart == nil {
		c.OnUploadStart = noop
	}

	if c.OnUploadProgress == nil {
		c.OnUploadProgress = noop
	}

	if c.OnUploadAbort == nil {
		c.OnUploadAbort = noop
	}

	if c.OnUploadEnd == nil {
		c.OnUploadEnd = noop
	}

	if c.Clock == nil {
		c.Clock = clock.New()
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

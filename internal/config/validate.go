package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks all configuration values and returns all errors found,
// so users see a complete report and can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

var validMethods = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if u.URL != "" {
		if err := validateURL(u.URL); err != nil {
			errs = append(errs, fmt.Errorf("url: %w", err))
		}
	}

	if !validMethods[strings.ToUpper(u.Method)] {
		errs = append(errs, fmt.Errorf("method: must be POST, PUT or PATCH, got %q", u.Method))
	}

	if u.FieldName == "" {
		errs = append(errs, errors.New("field_name: must not be empty"))
	}

	if u.ErrorField == "" {
		errs = append(errs, errors.New("error_field: must not be empty"))
	}

	if _, _, err := u.Timeouts(); err != nil {
		errs = append(errs, err)
	}

	if _, err := u.Debounce(); err != nil {
		errs = append(errs, err)
	}

	for name := range u.Headers {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\r\n:") {
			errs = append(errs, fmt.Errorf("headers: invalid header name %q", name))
		}
	}

	return errs
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}

	if parsed.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}

	return nil
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Listen == "" {
		errs = append(errs, errors.New("listen: must not be empty"))
	}

	if !strings.HasPrefix(s.UploadPath, "/") {
		errs = append(errs, fmt.Errorf("upload_path: must start with /, got %q", s.UploadPath))
	}

	if _, err := s.MaxUploadBytes(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

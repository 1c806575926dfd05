// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for upload-manager. Values resolve
// through a four-layer override chain: defaults -> config file ->
// environment -> CLI flags.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Upload  UploadConfig  `toml:"upload" json:"upload"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// UploadConfig controls how the client sends files: target, request shape,
// timeouts and progress reporting.
type UploadConfig struct {
	URL              string            `toml:"url" json:"url"`
	Method           string            `toml:"method" json:"method"`
	Accept           string            `toml:"accept" json:"accept"`
	FieldName        string            `toml:"field_name" json:"field_name"`
	Headers          map[string]string `toml:"headers" json:"headers"`
	WithCredentials  bool              `toml:"with_credentials" json:"with_credentials"`
	ResponseTimeout  string            `toml:"response_timeout" json:"response_timeout"`
	Deadline         string            `toml:"deadline" json:"deadline"`
	ProgressDebounce string            `toml:"progress_debounce" json:"progress_debounce"`
	ErrorField       string            `toml:"error_field" json:"error_field"`
	Checksum         bool              `toml:"checksum" json:"checksum"`
}

// ServerConfig controls the receiving endpoint started by "serve".
type ServerConfig struct {
	Listen        string `toml:"listen" json:"listen"`
	UploadPath    string `toml:"upload_path" json:"upload_path"`
	StaticDir     string `toml:"static_dir" json:"static_dir"`
	MaxUploadSize string `toml:"max_upload_size" json:"max_upload_size"`
	TempDir       string `toml:"temp_dir" json:"temp_dir"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	URL        *string // --url flag
	Listen     *string // --listen flag
}

// Timeouts returns the parsed response timeout and deadline. Call after
// Validate; unparseable values come back as errors.
func (u UploadConfig) Timeouts() (response, deadline time.Duration, err error) {
	response, err = parseDuration(u.ResponseTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("response_timeout: %w", err)
	}

	deadline, err = parseDuration(u.Deadline)
	if err != nil {
		return 0, 0, fmt.Errorf("deadline: %w", err)
	}

	return response, deadline, nil
}

// Debounce returns the parsed progress debounce interval.
func (u UploadConfig) Debounce() (time.Duration, error) {
	d, err := parseDuration(u.ProgressDebounce)
	if err != nil {
		return 0, fmt.Errorf("progress_debounce: %w", err)
	}

	return d, nil
}

// MaxUploadBytes returns the parsed max_upload_size. Zero means unlimited.
func (s ServerConfig) MaxUploadBytes() (int64, error) {
	n, err := ParseSize(s.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("max_upload_size: %w", err)
	}

	return n, nil
}

// parseDuration accepts Go duration strings. Empty and "0" disable the bound.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must be non-negative", s)
	}

	return d, nil
}

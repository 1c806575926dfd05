package config

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// RenderEffective writes the resolved configuration to w as annotated TOML,
// after defaults, file, environment and flags have been applied. It powers
// "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", displayPath(path))

	renderUploadSection(ew, &cfg.Upload)
	renderServerSection(ew, &cfg.Server)
	renderLoggingSection(ew, &cfg.Logging)

	return ew.err
}

// errWriter captures the first write error; later writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func displayPath(path string) string {
	if path == "" {
		return "none"
	}

	return path
}

func renderUploadSection(ew *errWriter, u *UploadConfig) {
	ew.printf("[upload]\n")
	ew.printf("url               = %q\n", u.URL)
	ew.printf("method            = %q\n", u.Method)
	ew.printf("accept            = %q\n", u.Accept)
	ew.printf("field_name        = %q\n", u.FieldName)
	ew.printf("with_credentials  = %t\n", u.WithCredentials)
	ew.printf("response_timeout  = %q\n", u.ResponseTimeout)
	ew.printf("deadline          = %q\n", u.Deadline)
	ew.printf("progress_debounce = %q\n", u.ProgressDebounce)
	ew.printf("error_field       = %q\n", u.ErrorField)
	ew.printf("checksum          = %t\n", u.Checksum)

	if len(u.Headers) > 0 {
		names := make([]string, 0, len(u.Headers))
		for k := range u.Headers {
			names = append(names, k)
		}

		sort.Strings(names)

		ew.printf("\n[upload.headers]\n")

		for _, k := range names {
			// Header values often carry credentials.
			ew.printf("%q = %q\n", k, redact(k, u.Headers[k]))
		}
	}

	ew.printf("\n")
}

func renderServerSection(ew *errWriter, s *ServerConfig) {
	ew.printf("[server]\n")
	ew.printf("listen          = %q\n", s.Listen)
	ew.printf("upload_path     = %q\n", s.UploadPath)
	ew.printf("max_upload_size = %q\n", s.MaxUploadSize)

	if s.StaticDir != "" {
		ew.printf("static_dir      = %q\n", s.StaticDir)
	}

	if s.TempDir != "" {
		ew.printf("temp_dir        = %q\n", s.TempDir)
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", l.LogLevel)
	ew.printf("log_format = %q\n", l.LogFormat)
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"x-api-key":           true,
}

func redact(name, value string) string {
	if sensitiveHeaders[strings.ToLower(name)] && value != "" {
		return "<redacted>"
	}

	return value
}

// Redacted returns a copy of cfg with sensitive header values masked, for
// display.
func (c *Config) Redacted() *Config {
	out := *c

	if c.Upload.Headers != nil {
		out.Upload.Headers = make(map[string]string, len(c.Upload.Headers))
		for k, v := range c.Upload.Headers {
			out.Upload.Headers[k] = redact(k, v)
		}
	}

	return &out
}

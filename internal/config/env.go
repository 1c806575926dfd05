package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig = "UPLOAD_MANAGER_CONFIG"
	EnvURL    = "UPLOAD_MANAGER_URL"
	EnvListen = "UPLOAD_MANAGER_LISTEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // UPLOAD_MANAGER_CONFIG: override config file path
	URL        string // UPLOAD_MANAGER_URL: upload target
	Listen     string // UPLOAD_MANAGER_LISTEN: receiver listen address
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		URL:        os.Getenv(EnvURL),
		Listen:     os.Getenv(EnvListen),
	}

	logger.Debug("read environment overrides",
		slog.String("config_path", env.ConfigPath),
		slog.String("url", env.URL),
		slog.String("listen", env.Listen),
	)

	return env
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("loaded config file",
		slog.String("path", path),
		slog.Int("keys", len(md.Keys())),
	)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the validated Config and the config path that was consulted.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, string, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, cfgPath, err
	}

	if env.URL != "" {
		cfg.Upload.URL = env.URL
	}

	if env.Listen != "" {
		cfg.Server.Listen = env.Listen
	}

	if cli.URL != nil {
		cfg.Upload.URL = *cli.URL
	}

	if cli.Listen != nil {
		cfg.Server.Listen = *cli.Listen
	}

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("config validation: %w", err)
	}

	return cfg, cfgPath, nil
}

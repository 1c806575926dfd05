package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultMethod           = "POST"
	defaultAccept           = "application/json"
	defaultFieldName        = "file"
	defaultResponseTimeout  = "0"
	defaultDeadline         = "0"
	defaultProgressDebounce = "100ms"
	defaultErrorField       = "errors"
	defaultListen           = "127.0.0.1:3000"
	defaultUploadPath       = "/upload"
	defaultMaxUploadSize    = "100MiB"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Upload:  defaultUploadConfig(),
		Server:  defaultServerConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultUploadConfig() UploadConfig {
	return UploadConfig{
		Method:           defaultMethod,
		Accept:           defaultAccept,
		FieldName:        defaultFieldName,
		ResponseTimeout:  defaultResponseTimeout,
		Deadline:         defaultDeadline,
		ProgressDebounce: defaultProgressDebounce,
		ErrorField:       defaultErrorField,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:        defaultListen,
		UploadPath:    defaultUploadPath,
		MaxUploadSize: defaultMaxUploadSize,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

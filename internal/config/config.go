// Package config loads the ambient-stack YAML configuration: logging and
// optional tracing. Ring identity and bootstrap target are CLI-flag-only
// (spec.md §6 — "-p", "-I", "-i" are the whole surface of how a node is
// told who it is and where to join), so this file carries only the parts
// of the teacher's Config that are genuinely deployment-wide knobs rather
// than per-invocation identity.
//
// Grounded on KoordeDHT/internal/config/config.go: same Load/ApplyEnvOverrides
// /ValidateConfig/LogConfig shape, trimmed to the sections that still apply.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"imgdht/internal/logger"
)

type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoadConfig reads and parses a YAML config file. It performs no
// validation; call ValidateConfig afterward.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverrides overrides logging and tracing fields from the
// environment, letting a container orchestrator tune verbosity without a
// config file edit.
//
//	LOGGER_ENABLED   -> cfg.Logger.Active
//	LOGGER_LEVEL     -> cfg.Logger.Level
//	LOGGER_ENCODING  -> cfg.Logger.Encoding
//	LOGGER_MODE      -> cfg.Logger.Mode
//	LOGGER_FILE_PATH -> cfg.Logger.File.Path
//	TRACE_ENABLED    -> cfg.Telemetry.Tracing.Enabled
//	TRACE_EXPORTER   -> cfg.Telemetry.Tracing.Exporter
//	TRACE_ENDPOINT   -> cfg.Telemetry.Tracing.Endpoint
func (cfg *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOGGER_ENABLED"); v != "" {
		cfg.Logger.Active = truthy(v)
	}
	if v := os.Getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOGGER_ENCODING"); v != "" {
		cfg.Logger.Encoding = v
	}
	if v := os.Getenv("LOGGER_MODE"); v != "" {
		cfg.Logger.Mode = v
	}
	if v := os.Getenv("LOGGER_FILE_PATH"); v != "" {
		cfg.Logger.File.Path = v
	}
	if v := os.Getenv("TRACE_ENABLED"); v != "" {
		cfg.Telemetry.Tracing.Enabled = truthy(v)
	}
	if v := os.Getenv("TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACE_ENDPOINT"); v != "" {
		cfg.Telemetry.Tracing.Endpoint = v
	}
}

func truthy(v string) bool {
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes"
}

// ValidateConfig checks structural correctness: required fields present,
// enum fields in range. It does not touch ring semantics, which live
// entirely outside this package.
func (cfg *Config) ValidateConfig() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stdout":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when mode=file")
		}
		if cfg.Logger.File.MaxSize < 0 || cfg.Logger.File.MaxBackups < 0 || cfg.Logger.File.MaxAge < 0 {
			errs = append(errs, "logger.file.* values must be non-negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if cfg.Telemetry.Tracing.Enabled {
		switch cfg.Telemetry.Tracing.Exporter {
		case "stdout":
		default:
			errs = append(errs, fmt.Sprintf("invalid telemetry.tracing.exporter: %s (only stdout is wired)", cfg.Telemetry.Tracing.Exporter))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig emits the loaded configuration at DEBUG level, useful when
// diagnosing a startup that picked up an unexpected file.
func (cfg *Config) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded configuration",
		logger.F("logger.active", cfg.Logger.Active),
		logger.F("logger.level", cfg.Logger.Level),
		logger.F("logger.encoding", cfg.Logger.Encoding),
		logger.F("logger.mode", cfg.Logger.Mode),
		logger.F("logger.file.path", cfg.Logger.File.Path),
		logger.F("logger.file.maxSizeMB", cfg.Logger.File.MaxSize),
		logger.F("logger.file.maxBackups", cfg.Logger.File.MaxBackups),
		logger.F("logger.file.maxAgeDays", cfg.Logger.File.MaxAge),
		logger.F("logger.file.compress", cfg.Logger.File.Compress),
		logger.F("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled),
		logger.F("telemetry.tracing.exporter", cfg.Telemetry.Tracing.Exporter),
		logger.F("telemetry.tracing.endpoint", cfg.Telemetry.Tracing.Endpoint),
	)
}

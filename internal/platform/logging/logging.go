package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
)

type Config struct {
	Level  string
	Format string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Level:  strings.ToLower(strings.TrimSpace(env.String("LOG_LEVEL", "info"))),
		Format: strings.ToLower(strings.TrimSpace(env.String("LOG_FORMAT", "json"))),
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be one of: json, text (got %q)", c.Format)
	}
}

// New builds the process logger on stderr, tagged with the service name.
func New(cfg Config, service string) *slog.Logger {
	return NewWithWriter(cfg, service, os.Stderr)
}

func NewWithWriter(cfg Config, service string, w io.Writer) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got %q)", level)
	}
}

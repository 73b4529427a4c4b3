package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/logging"
)

type Config struct {
	// WorkingDirectory holds one workspace directory per running job.
	WorkingDirectory string
	// StepLogLevel is the minimum level of handler log records that end
	// up in the job's event log.
	StepLogLevel slog.Level
}

func ConfigFromEnv() (Config, error) {
	level, err := logging.ParseLevel(env.String("CODEMODS_STEP_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("CODEMODS_STEP_LOG_LEVEL: %w", err)
	}
	cfg := Config{
		WorkingDirectory: strings.TrimSpace(env.String("CODEMODS_WORKING_DIRECTORY", os.TempDir())),
		StepLogLevel:     level,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.WorkingDirectory == "" {
		return errors.New("CODEMODS_WORKING_DIRECTORY is required")
	}
	info, err := os.Stat(c.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("CODEMODS_WORKING_DIRECTORY: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("CODEMODS_WORKING_DIRECTORY %s is not a directory", c.WorkingDirectory)
	}
	return nil
}

// checkWritable probes the working directory with a throwaway directory.
func checkWritable(dir string) error {
	probe, err := os.MkdirTemp(dir, ".codemods-probe-")
	if err != nil {
		return fmt.Errorf("working directory %s is not writable: %w", dir, err)
	}
	return os.RemoveAll(probe)
}

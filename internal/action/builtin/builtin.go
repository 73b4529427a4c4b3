// Package builtin provides the actions every codemods installation ships
// with: debug:log, fs:write, fs:delete and shell:exec.
package builtin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
	"github.com/gobwas/glob"
)

type Config struct {
	// AllowedCommands are glob patterns matched against the command of
	// shell:exec steps.
	AllowedCommands []string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		AllowedCommands: env.CSV("CODEMODS_SHELL_ALLOWED_COMMANDS", []string{"*"}),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.AllowedCommands) == 0 {
		return errors.New("CODEMODS_SHELL_ALLOWED_COMMANDS must list at least one pattern")
	}
	for _, pattern := range c.AllowedCommands {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("CODEMODS_SHELL_ALLOWED_COMMANDS: invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Actions returns the built-in actions.
func Actions(cfg Config) ([]action.Action, error) {
	shell, err := NewShellExec(cfg.AllowedCommands)
	if err != nil {
		return nil, err
	}
	return []action.Action{
		DebugLog(),
		FSWrite(),
		FSDelete(),
		shell,
	}, nil
}

// Register adds the built-in actions to r.
func Register(r *action.Registry, cfg Config) error {
	actions, err := Actions(cfg)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func stringInput(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return strings.TrimSpace(v)
}

func stringsInput(input map[string]any, key string) ([]string, error) {
	raw, ok := input[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", key, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
}

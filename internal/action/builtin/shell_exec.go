package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/gobwas/glob"
)

const ShellExecID = "shell:exec"

// NewShellExec builds the shell:exec action. Commands run with an explicit
// working directory inside the workspace; the process directory is never
// changed.
func NewShellExec(allowed []string) (action.Action, error) {
	matchers := make([]glob.Glob, 0, len(allowed))
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return action.Action{}, fmt.Errorf("shell:exec: invalid allowed command %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}

	return action.Action{
		ID:          ShellExecID,
		Description: "Runs an arbitrary command",
		Examples: []action.Example{
			action.StepsExample("Execute a command", map[string]any{
				"action": ShellExecID,
				"id":     "run-command",
				"name":   "Run a command",
				"input": map[string]any{
					"command":   "go",
					"args":      []string{"mod", "tidy"},
					"directory": "./repo",
				},
			}),
		},
		Schema: action.Schema{Input: map[string]any{
			"type":     "object",
			"required": []any{"command"},
			"properties": map[string]any{
				"command": map[string]any{"title": "Command", "description": "Command to run", "type": "string"},
				"args": map[string]any{
					"title":       "Arguments",
					"description": "A list of arguments to give to the command",
					"type":        "array",
					"items":       map[string]any{"type": "string"},
				},
				"directory": map[string]any{
					"title":       "Working directory",
					"description": "Directory in which the command will be executed. Defaults to the workspace.",
					"type":        "string",
				},
			},
		}},
		Handler: func(ctx context.Context, actx *action.Context) error {
			return shellExec(ctx, actx, matchers)
		},
	}, nil
}

func shellExec(ctx context.Context, actx *action.Context, allowed []glob.Glob) error {
	command := stringInput(actx.Input, "command")
	if command == "" {
		return domain.Inputf("shell:exec requires a command")
	}
	if !commandAllowed(command, allowed) {
		return domain.Inputf("shell:exec: command %q is not allowed", command)
	}
	args, err := stringsInput(actx.Input, "args")
	if err != nil {
		return domain.Inputf("shell:exec: %v", err)
	}

	dir := actx.WorkspacePath
	if d := stringInput(actx.Input, "directory"); d != "" {
		dir, err = action.SanitizeWorkspacePath(actx.WorkspacePath, d)
		if err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Stdout = actx.LogStream
	cmd.Stderr = actx.LogStream

	actx.Logger.Info("running command", "command", command, "args", args)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("command %s failed with exit code %d", command, exitErr.ExitCode())
		}
		return fmt.Errorf("run %s: %w", command, err)
	}
	return nil
}

func commandAllowed(command string, allowed []glob.Glob) bool {
	base := filepath.Base(command)
	for _, g := range allowed {
		if g.Match(command) || g.Match(base) {
			return true
		}
	}
	return false
}

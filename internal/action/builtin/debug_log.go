package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
)

const DebugLogID = "debug:log"

func DebugLog() action.Action {
	return action.Action{
		ID:          DebugLogID,
		Description: "Writes a message into the log or lists all files in the workspace.",
		Examples: []action.Example{
			action.StepsExample("Write a debug message", map[string]any{
				"action": DebugLogID,
				"id":     "write-debug-line",
				"name":   `Write "Hello Codemods!" log line`,
				"input":  map[string]any{"message": "Hello Codemods!"},
			}),
			action.StepsExample("List the workspace directory", map[string]any{
				"action": DebugLogID,
				"id":     "write-workspace-directory",
				"name":   "List the workspace directory",
				"input":  map[string]any{"listWorkspace": true},
			}),
		},
		Schema: action.Schema{Input: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":       map[string]any{"title": "Message to output.", "type": "string"},
				"listWorkspace": map[string]any{"title": "List all files in the workspace, if true.", "type": "boolean"},
				"extra":         map[string]any{"title": "Extra info"},
			},
		}},
		Handler: debugLog,
	}
}

func debugLog(ctx context.Context, actx *action.Context) error {
	if raw, err := json.Marshal(actx.Input); err == nil {
		actx.Logger.Debug("debug:log input", "input", string(raw))
	}

	if message := stringInput(actx.Input, "message"); message != "" {
		if _, err := fmt.Fprintln(actx.LogStream, message); err != nil {
			return err
		}
	}

	if list, _ := actx.Input["listWorkspace"].(bool); list {
		files, err := workspaceFiles(actx.WorkspacePath)
		if err != nil {
			return err
		}
		lines := make([]string, 0, len(files))
		for _, f := range files {
			lines = append(lines, "  - "+f)
		}
		if _, err := fmt.Fprintf(actx.LogStream, "Workspace:\n%s\n", strings.Join(lines, "\n")); err != nil {
			return err
		}
	}
	return nil
}

func workspaceFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

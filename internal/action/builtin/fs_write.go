package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

const FSWriteID = "fs:write"

func FSWrite() action.Action {
	return action.Action{
		ID:          FSWriteID,
		Description: "Writes content into a file in the workspace.",
		Examples: []action.Example{
			action.StepsExample("Write to a file", map[string]any{
				"action": FSWriteID,
				"id":     "write-codeowners",
				"name":   "Write CODEOWNERS",
				"input": map[string]any{
					"to":      "./repo/.github/CODEOWNERS",
					"content": "* ${{ parameters.owner }}",
				},
			}),
		},
		Schema: action.Schema{Input: map[string]any{
			"type":     "object",
			"required": []any{"to", "content"},
			"properties": map[string]any{
				"to":      map[string]any{"title": "File in the workspace to write into.", "type": "string"},
				"content": map[string]any{"title": "Content to write.", "type": "string"},
			},
		}},
		Handler: fsWrite,
	}
}

func fsWrite(ctx context.Context, actx *action.Context) error {
	to := stringInput(actx.Input, "to")
	if to == "" {
		return domain.Inputf("fs:write requires a destination")
	}
	content, _ := actx.Input["content"].(string)

	path, err := action.SanitizeWorkspacePath(actx.WorkspacePath, to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", to, err)
	}
	actx.Logger.Info("file written", "path", to, "bytes", len(content))
	return nil
}

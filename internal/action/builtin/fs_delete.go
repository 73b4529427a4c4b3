package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

const FSDeleteID = "fs:delete"

func FSDelete() action.Action {
	return action.Action{
		ID:          FSDeleteID,
		Description: "Deletes files and directories from the workspace",
		Examples: []action.Example{
			action.StepsExample("Delete a file", map[string]any{
				"action": FSDeleteID,
				"id":     "delete-file",
				"name":   "Delete a file",
				"input":  map[string]any{"targets": []string{"./some/file.txt"}},
			}),
			action.StepsExample("Delete multiple targets", map[string]any{
				"action": FSDeleteID,
				"id":     "delete-multiple",
				"name":   "Delete multiple targets",
				"input":  map[string]any{"targets": []string{"./some/directory", "./some/file.txt"}},
			}),
		},
		Schema: action.Schema{Input: map[string]any{
			"type":     "object",
			"required": []any{"targets"},
			"properties": map[string]any{
				"targets": map[string]any{
					"title":       "Files and/or directories",
					"description": "A list of files and directories that will be deleted",
					"type":        "array",
					"items":       map[string]any{"type": "string"},
				},
			},
		}},
		Handler: fsDelete,
	}
}

func fsDelete(ctx context.Context, actx *action.Context) error {
	targets, err := stringsInput(actx.Input, "targets")
	if err != nil {
		return domain.Inputf("fs:delete: %v", err)
	}

	for _, target := range targets {
		path, err := action.SanitizeWorkspacePath(actx.WorkspacePath, target)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("delete %s: %w", target, err)
		}
		actx.Logger.Info("file deleted", "path", target)
	}
	return nil
}

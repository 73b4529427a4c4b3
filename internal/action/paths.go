package action

import (
	"path/filepath"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

// SanitizeWorkspacePath resolves p inside the workspace. Leading "../"
// segments are dropped, so the result is always a strict child of the
// workspace.
func SanitizeWorkspacePath(workspace, p string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.ToSlash(strings.TrimSpace(p)))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", domain.Inputf("path %q does not point inside the workspace", p)
	}

	root := filepath.Clean(workspace)
	full := filepath.Join(root, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.Inputf("Relative path is not allowed to refer to a directory outside its parent: %s", p)
	}
	return full, nil
}

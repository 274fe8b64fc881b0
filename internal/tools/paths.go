package tools

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath resolves p against root and verifies that the result, after
// following symlinks, stays inside root. p need not exist; the deepest
// existing ancestor is used for the symlink check.
func resolvePath(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	abs := filepath.Clean(p)
	if !within(root, abs) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "%s is outside the project", p)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "resolve project root: %v", err)
	}

	existing, rest := abs, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", NewToolErrorf(ErrExecutionFailed, "stat %s: %v", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "resolve symlinks: %v", err)
	}
	if !within(realRoot, real) {
		return "", NewToolErrorf(ErrSymlinkEscape, "%s resolves outside the project", p)
	}
	return filepath.Join(real, rest), nil
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// relPath returns p relative to root for display.
func relPath(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil {
		return rel
	}
	return p
}

// Package security holds path validation used wherever filenames are
// derived from untrusted input, such as clip ids read from sidecar
// files.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside
// safeDir, guarding against traversal via ".." components or absolute
// paths smuggled into a filename. Symlinks in existing parents are
// resolved so a link cannot be used to escape.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("resolve safe directory: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalSafe := resolveExisting(absSafeDir)

	rel, err := filepath.Rel(canonicalSafe, canonicalPath)
	if err != nil {
		return fmt.Errorf("path %q is not relative to %q: %w", filePath, safeDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes directory %q", filePath, safeDir)
	}
	return nil
}

// resolveExisting resolves symlinks for path, falling back to the
// nearest existing parent when the path itself does not exist yet.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveExisting(parent), filepath.Base(path))
}

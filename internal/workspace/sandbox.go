package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a candidate path resolves outside the
// project root, either lexically or through a symlink.
var ErrPathEscape = errors.New("path escapes project root")

// Resolve resolves candidate against root and guarantees the result stays
// inside root. Relative candidates are joined to root; absolute candidates
// must already point inside it. Forward slashes are canonical on input.
func Resolve(root, candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	cleanRoot, err := resolveExisting(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve project root %s: %w", root, err)
	}

	candidate = filepath.FromSlash(candidate)
	abs := candidate
	if !filepath.IsAbs(candidate) {
		abs = filepath.Join(cleanRoot, candidate)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", candidate, err)
	}
	if !within(cleanRoot, resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, candidate)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and re-joins the non-existing suffix. New files resolve through
// their existing parent directories.
func resolveExisting(path string) (string, error) {
	var suffix []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(suffix) == 0 {
				return resolved, nil
			}
			parts := append([]string{resolved}, suffix...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		suffix = append([]string{filepath.Base(current)}, suffix...)
		current = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanGroupName validates a backup group name. A group is a single
// directory level below the backup root, so separators, parent references
// and volume names are rejected.
func CleanGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("group name is empty")
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("group name %q is not allowed", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("group name %q must not contain path separators", name)
	}
	return name, nil
}

// JoinUnder joins a validated group name under root and verifies the
// result stays inside root.
func JoinUnder(root, name string) (string, error) {
	clean, err := CleanGroupName(name)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, clean))
}

// EnsureUnderRoot verifies candidate resolves under root and returns it
// cleaned. Relative inputs are compared lexically, so the check works for
// in-memory filesystems as well as the OS one.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootClean := filepath.Clean(root)
	candClean := filepath.Clean(candidate)

	rel, err := filepath.Rel(rootClean, candClean)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == "." {
		return "", fmt.Errorf("path %q is the root itself", candidate)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candClean, nil
}

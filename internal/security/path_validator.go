package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator confines file operations to a set of allowed
// directories, resolving symlinks before the containment check.
type PathValidator struct {
	allowedDirs   []string
	allowSymlinks bool
}

// NewPathValidator creates a validator. An empty allowedDirs list
// disables containment checking.
func NewPathValidator(allowedDirs []string, allowSymlinks bool) *PathValidator {
	normalized := make([]string, len(allowedDirs))
	for i, dir := range allowedDirs {
		normalized[i] = filepath.Clean(dir)
	}
	return &PathValidator{allowedDirs: normalized, allowSymlinks: allowSymlinks}
}

// Validate resolves a path and checks it falls inside an allowed
// directory. The returned path has all symlinks resolved; callers must
// operate on it, not the input, to avoid a resolve-then-swap race.
func (v *PathValidator) Validate(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("null byte in path")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	resolved, err := v.resolve(absPath)
	if err != nil {
		return "", err
	}

	if !v.allowSymlinks {
		if err := v.rejectSymlinks(resolved); err != nil {
			return "", err
		}
	}

	if !v.isAllowed(resolved) {
		return "", fmt.Errorf("path '%s' is outside allowed directories", path)
	}
	return resolved, nil
}

// resolve evaluates symlinks. For paths that don't exist yet (new
// files), the parent directory is resolved instead so a symlinked
// parent can't smuggle the write elsewhere.
func (v *PathValidator) resolve(absPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(absPath))
	if err != nil {
		if os.IsNotExist(err) {
			return absPath, nil
		}
		return "", fmt.Errorf("resolve parent: %w", err)
	}
	return filepath.Join(parent, filepath.Base(absPath)), nil
}

// ValidateFile validates a path for file read/write. The parent
// directory must already exist.
func (v *PathValidator) ValidateFile(path string) (string, error) {
	absPath, err := v.Validate(path)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(absPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", fmt.Errorf("parent directory does not exist: %s", dir)
	}
	return absPath, nil
}

// ValidateDir validates that a path is an existing directory.
func (v *PathValidator) ValidateDir(path string) (string, error) {
	absPath, err := v.Validate(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", path)
	}
	return absPath, nil
}

func (v *PathValidator) isAllowed(absPath string) bool {
	if len(v.allowedDirs) == 0 {
		return true
	}
	for _, dir := range v.allowedDirs {
		if pathWithin(absPath, dir) {
			return true
		}
	}
	return false
}

// pathWithin reports whether target is base or inside it.
func pathWithin(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// rejectSymlinks walks each existing component and fails on any symlink.
func (v *PathValidator) rejectSymlinks(path string) error {
	components := strings.Split(filepath.Clean(path), string(filepath.Separator))

	current := ""
	if filepath.IsAbs(path) {
		current = string(filepath.Separator)
	}

	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)

		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("symlinks not allowed: %s", current)
		}
	}
	return nil
}

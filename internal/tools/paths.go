package tools

import "path/filepath"

// resolvePath makes path absolute against workDir when it is relative.
func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

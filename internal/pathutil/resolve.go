// Package pathutil provides local path resolution for download destinations.
package pathutil

import (
	"os"
	"path/filepath"
)

// ResolveLocal converts a user-supplied destination to an absolute local
// path. A leading ~ expands to the home directory, and symlinks in the
// existing portion of the path are resolved before the non-existent
// components are appended. This keeps downloads landing in the real
// directory when the destination sits behind a symlink but the target
// subdirectory does not exist yet.
func ResolveLocal(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + path[1:]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	// Fast path when the destination already exists.
	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}

	// Walk up to the deepest existing ancestor, resolve there, and
	// re-append the components that do not exist yet.
	current := absPath
	var remainder []string

	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absPath, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}

package remotefs

import "strings"

// IsHiddenName reports whether a bare filename represents a hidden entry.
// The special entries "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}

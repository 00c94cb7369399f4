//go:build !windows

package diskspace

import (
	"path/filepath"
	"syscall"
)

// CheckAvailableSpace checks whether the filesystem holding targetPath
// has room for requiredBytes plus the safety margin. targetPath itself
// may not exist yet; the containing directory is what gets statted.
//
// If the filesystem cannot be statted (network mounts, virtual
// filesystems) the check passes and the write fails naturally instead.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	dir := filepath.Dir(targetPath)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return nil
	}

	// Bavail counts blocks available to unprivileged users.
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)

	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: availableBytes,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the
// filesystem containing path. Returns 0 if it cannot be determined.
func GetAvailableSpace(path string) int64 {
	dir := filepath.Dir(path)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}

//go:build windows

package diskspace

import (
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	kernel32            = syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceExW = kernel32.NewProc("GetDiskFreeSpaceExW")
)

// CheckAvailableSpace checks whether the drive holding targetPath has
// room for requiredBytes plus the safety margin. targetPath itself may
// not exist yet; the containing directory is what gets queried.
//
// If the query fails the check passes and the write fails naturally
// instead.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	availableBytes := GetAvailableSpace(targetPath)
	if availableBytes == 0 {
		return nil
	}

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

// GetAvailableSpace returns the available space in bytes for the drive
// containing path. Returns 0 if it cannot be determined.
func GetAvailableSpace(path string) int64 {
	dir := filepath.Dir(path)

	dirPtr, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return 0
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	ret, _, _ := getDiskFreeSpaceExW.Call(
		uintptr(unsafe.Pointer(dirPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFreeBytes)),
	)
	if ret == 0 {
		return 0
	}
	return int64(freeBytesAvailable)
}

// Package diskspace checks available disk space before downloads start,
// so a transfer that cannot fit fails up front instead of half-way in.
package diskspace

import "fmt"

// SafetyMargin is the multiplier applied to the requested size, leaving
// headroom for filesystem overhead and concurrent writers.
const SafetyMargin = 1.05

// InsufficientSpaceError indicates that there is not enough disk space
// available for a download.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// IsInsufficientSpaceError reports whether err is an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	_, ok := err.(*InsufficientSpaceError)
	return ok
}

// Package version provides build version information for rove.
// This is a separate package so both cmd and cli can import it.
package version

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.4.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

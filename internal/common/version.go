package common

import "fmt"

// Version information, overridden at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// GetVersion returns the bare version string.
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version together with the commit it was built
// from.
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit: %s)", Version, GitCommit)
}

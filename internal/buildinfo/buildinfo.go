// ABOUTME: Build metadata stamped into labmgr binaries at link time.
package buildinfo

import "fmt"

// These values are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata for version output and startup logs.
func String() string {
	return fmt.Sprintf("labmgr %s (commit %s, built %s)", Version, Commit, Date)
}

// UserAgent is sent with every request to the Lab Manager control plane.
func UserAgent() string {
	return "labmgr/" + Version
}

// Package buildinfo exposes compile-time metadata of the cxlogin binary.
package buildinfo

import "fmt"

// The following variables are overridden via ldflags during release builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}

// UserAgent identifies cxlogin on outgoing requests.
func UserAgent() string {
	return "cxlogin/" + Version
}

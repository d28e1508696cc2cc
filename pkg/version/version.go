// Package version exposes the build identity of the running binary.
package version

import "fmt"

// Set at build time via -ldflags "-X .../pkg/version.Version=... ".
var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = ""
)

// String returns the version with the commit when known, e.g.
// "0.3.1 (4f2a9c1)".
func String() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

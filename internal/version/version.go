// Package version carries the build-time identity of the gateway
// binary, injected via -ldflags at release build time.
package version

// Version, Commit and Date are overridden via -ldflags
// "-X github.com/compozy/mcpgate/internal/version.Version=...". They
// default to "dev" values for local builds.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build identity for --version and the version
// subcommand.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}

package version

import "fmt"

var (
	// Version is the packager's own semantic version, distinct from the
	// release being packaged. Release builds override it via ldflags;
	// "0.0.0-dev" marks a local build.
	Version = "0.0.0-dev"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("release-packager %s (commit: %s, built at: %s)", Version, Commit, BuildTime)
}

// Package version reports build information set via -ldflags, for example
// go build -ldflags "-X github.com/pysugar/session-nexus/internal/version.Version=v0.1.0".
package version

import "fmt"

var (
	// Version is the semantic version of the application
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// BuildTime is the timestamp of the build
	BuildTime = "unknown"
)

// Info is the JSON shape served by the version endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String formats build information for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}

// UserAgent identifies this build to the remote backend.
func UserAgent() string {
	return "session-nexus/" + Version
}

// Package version reports the relay's build version.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time via ldflags:
//
//	go build -ldflags="-X github.com/Tyrowin/sparkrelay/internal/version.Version=1.0.0 \
//	                   -X github.com/Tyrowin/sparkrelay/internal/version.Commit=abc123"
var (
	// Version is the semantic version reported by /status.
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

// ServerName is the name reported by /status.
const ServerName = "spark-messaging-server"

const defaultVersion = "1.0.0"

func init() {
	if Commit == "" {
		Commit = commitFromBuildInfo()
	}
	if Version == "" {
		Version = defaultVersion
	}
}

// commitFromBuildInfo reads the VCS revision recorded by the go tool, if any.
func commitFromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return "unknown"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

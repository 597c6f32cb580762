// Package version reports the build of nvme-models.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is set with -ldflags at release time.
	Version = "0.1.0-dev"

	// GitCommit falls back to the VCS stamp of the build when not set.
	GitCommit = ""

	BuildDate = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Commit returns GitCommit, or the first 12 characters of the vcs.revision
// the toolchain embedded, or "unknown".
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := readBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	return "unknown"
}

// Info returns formatted version information
func Info() string {
	built := BuildDate
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("nvme-models version %s (commit: %s, built: %s)", Version, Commit(), built)
}

// Package version reports the tuyactl build.
//
// Release builds stamp Version and Commit with ldflags:
//
//	go build -ldflags="-X github.com/muurk/tuyalocal/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/tuyalocal/internal/version.Commit=abc123" ./cmd/tuyactl
//
// Otherwise they are filled from the module and VCS data the Go toolchain
// embeds in the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	Version = ""
	Commit  = ""
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fromBuildInfo(info)
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromBuildInfo fills whichever of Version and Commit are still unset.
// "go install module@v1.2.3" records the module version; local builds only
// carry VCS settings.
func fromBuildInfo(info *debug.BuildInfo) {
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if rev := settings["vcs.revision"]; Commit == "" && rev != "" {
		Commit = rev[:min(len(rev), 7)]
		if settings["vcs.modified"] == "true" {
			Commit += "-dirty"
		}
	}
	if t := settings["vcs.time"]; Version == "" && len(t) >= 10 {
		Version = "dev-" + strings.ReplaceAll(t[:10], "-", "")
	}
}

// Full returns the version with commit and Go runtime.
func Full() string {
	return fmt.Sprintf("%s (commit: %s, %s)", Version, Commit, runtime.Version())
}

// UserAgent identifies tuyactl in monitor responses.
func UserAgent() string {
	return "tuyactl/" + Version
}

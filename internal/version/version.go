// Package version reports the version of the aurelay binaries.
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	Major = 0
	Minor = 3
	Patch = 0
)

// PreRelease is set to a non-empty string for pre-release builds. It may be
// overridden at link time with -ldflags "-X ...version.PreRelease=rc1".
var PreRelease = "pre"

// BuildMetadata defaults to the VCS revision the binary was built from, when
// available.
var BuildMetadata = ""

func init() {
	if BuildMetadata != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if revision != "" && modified {
		revision += ".dirty"
	}
	BuildMetadata = revision
}

// String returns the semver formatted version.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		v += "-" + PreRelease
	}
	if BuildMetadata != "" {
		v += "+" + BuildMetadata
	}
	return v
}

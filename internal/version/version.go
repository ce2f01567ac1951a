package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/tabterm"

// buildVersion is set via -ldflags "-X pkt.systems/tabterm/internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the best available version string without a dirty suffix.
func Current() string {
	return fromBuildInfo(readBuildInfo(), false)
}

// CurrentWithDirty returns the best available version string, marking
// builds from a modified tree with +dirty.
func CurrentWithDirty() string {
	return fromBuildInfo(readBuildInfo(), true)
}

// Module returns the module path from build info when available.
func Module() string {
	if info := readBuildInfo(); info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// Summary is the one-line banner printed by the version command.
func Summary() string {
	return fmt.Sprintf("tabterm %s (%s, %s/%s)", CurrentWithDirty(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func readBuildInfo() *debug.BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info
}

func fromBuildInfo(info *debug.BuildInfo, includeDirty bool) string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return trimDirty(v, includeDirty)
	}
	if info != nil {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return trimDirty(v, includeDirty)
		}
		if v := pseudoFromBuildInfo(info); v != "" {
			return trimDirty(v, includeDirty)
		}
	}
	return "v0.0.0-unknown"
}

func trimDirty(v string, includeDirty bool) string {
	if includeDirty {
		return v
	}
	return strings.TrimSuffix(v, "+dirty")
}

// pseudoFromBuildInfo derives a Go pseudo-version from VCS stamps.
func pseudoFromBuildInfo(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	var revision, vcsTime string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
	if modified {
		ver += "+dirty"
	}
	return ver
}

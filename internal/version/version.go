// Package version reports build information for opsdesk binaries.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Version and Commit can be set with
// -ldflags "-X github.com/MEKXH/opsdesk/internal/version.Version=v0.3.0".
var (
	Version = "dev"
	Commit  = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	if Commit == "" {
		Commit = revision(info.Settings)
	}
}

func revision(settings []debug.BuildSetting) string {
	for _, s := range settings {
		if s.Key != "vcs.revision" {
			continue
		}
		if len(s.Value) > 7 {
			return s.Value[:7]
		}
		return s.Value
	}
	return ""
}

// String is the one-line version banner shared by the CLI, chat and gateway.
func String() string {
	var b strings.Builder
	b.WriteString("opsdesk ")
	b.WriteString(Version)
	if Commit != "" {
		b.WriteString(" (" + Commit + ")")
	}
	b.WriteString(" " + runtime.GOOS + "/" + runtime.GOARCH)
	return b.String()
}

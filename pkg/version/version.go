// Package version reports what build of the gateway is running.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

const Component = "vertexgate"

// Overridden with -ldflags "-X github.com/lkarlslund/vertexgate/pkg/version.Version=v0.3.0".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	Dirty   = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
}

func Current() Info {
	info := fromLinker()
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = withVCS(info, bi.Settings)
	}
	return info
}

func fromLinker() Info {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	return Info{
		Version:   v,
		Commit:    strings.TrimSpace(Commit),
		Date:      strings.TrimSpace(Date),
		Dirty:     strings.EqualFold(strings.TrimSpace(Dirty), "true"),
		GoVersion: runtime.Version(),
	}
}

// withVCS fills blanks from the toolchain's vcs.* stamp. Linker values win.
func withVCS(info Info, settings []debug.BuildSetting) Info {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = strings.TrimSpace(s.Value)
	}
	if info.Commit == "" {
		info.Commit = vcs["vcs.revision"]
	}
	if info.Date == "" {
		info.Date = vcs["vcs.time"]
	}
	if vcs["vcs.modified"] == "true" {
		info.Dirty = true
	}
	return info
}

// ShortCommit is the first 12 characters of the revision.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// String renders "v1.2.3+abcdef012345+dirty", omitting empty parts.
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	if c := i.ShortCommit(); c != "" {
		b.WriteString("+" + c)
	}
	if i.Dirty {
		b.WriteString("+dirty")
	}
	return b.String()
}

// LogFields is the key/value list for the startup log line.
func (i Info) LogFields() []any {
	fields := []any{"version", i.String(), "go", i.GoVersion}
	if i.Date != "" {
		fields = append(fields, "built", i.Date)
	}
	return fields
}

func String() string {
	return Current().String()
}

// Detailed is what the version command prints.
func Detailed() string {
	i := Current()
	lines := []string{Component + " " + i.String(), "Go: " + i.GoVersion}
	if i.Date != "" {
		lines = append(lines, "Built: "+i.Date)
	}
	return strings.Join(lines, "\n")
}

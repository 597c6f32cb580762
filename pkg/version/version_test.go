package version

import (
	"runtime/debug"
	"testing"
)

func TestCommit(t *testing.T) {
	origRead, origCommit := readBuildInfo, GitCommit
	defer func() { readBuildInfo, GitCommit = origRead, origCommit }()

	tests := []struct {
		name     string
		commit   string
		settings []debug.BuildSetting
		ok       bool
		want     string
	}{
		{"ldflags win", "abc123", []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}}, true, "abc123"},
		{"vcs stamp", "", []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef0123"}}, true, "0123456789ab"},
		{"short stamp", "", []debug.BuildSetting{{Key: "vcs.revision", Value: "beef"}}, true, "beef"},
		{"no stamp", "", nil, true, "unknown"},
		{"no build info", "", nil, false, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			GitCommit = tt.commit
			readBuildInfo = func() (*debug.BuildInfo, bool) {
				if !tt.ok {
					return nil, false
				}
				return &debug.BuildInfo{Settings: tt.settings}, true
			}
			if got := Commit(); got != tt.want {
				t.Errorf("Commit() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	origCommit, origDate := GitCommit, BuildDate
	defer func() { GitCommit, BuildDate = origCommit, origDate }()

	GitCommit, BuildDate = "abc", ""
	want := "nvme-models version " + Version + " (commit: abc, built: unknown)"
	if got := Info(); got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}

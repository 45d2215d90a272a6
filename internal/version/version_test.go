package version

import "testing"

// setBuild overrides the ldflags variables for the duration of a test.
func setBuild(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = version, commit, buildTime
}

func TestString(t *testing.T) {
	setBuild(t, "1.2.3", "abc1234", "2026-01-15T10:00:00Z")

	want := "1.2.3 (abc1234) built 2026-01-15T10:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestUserAgent(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"dev", "gridpulse/dev"},
		{"1.2.3", "gridpulse/1.2.3"},
	}
	for _, tt := range tests {
		setBuild(t, tt.version, "unknown", "unknown")
		if got := UserAgent(); got != tt.want {
			t.Errorf("UserAgent() with Version %q = %q, want %q", tt.version, got, tt.want)
		}
	}
}

func TestDefaultValues(t *testing.T) {
	if Version == "" || Commit == "" || BuildTime == "" {
		t.Errorf("build variables must not be empty: %q %q %q", Version, Commit, BuildTime)
	}
}

// Package version holds the gridpulse build identity. It is reported by
// the --version flags, the /health endpoint and the websocket User-Agent.
//
// Set at build time:
//
//	go build -ldflags "-X github.com/rickgao/gridpulse/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/gridpulse/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/gridpulse/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	// Version is the release, "dev" for local builds.
	Version = "dev"

	// Commit is the short git hash.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String returns "<version> (<commit>) built <time>".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent on the websocket upgrade.
func UserAgent() string {
	return "gridpulse/" + Version
}

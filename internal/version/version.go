// Package version carries build metadata stamped in at release time.
package version

// Overridden via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/cruciblebench/crucible/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Package version carries build metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/banshee-data/reflex/internal/version.Version=v0.1.0 \
//	  -X github.com/banshee-data/reflex/internal/version.GitSHA=$(git rev-parse --short HEAD)" ./cmd/reflex
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String describes binary's build for -version output and the startup log.
func String(binary string) string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", binary, Version, GitSHA, BuildTime)
}

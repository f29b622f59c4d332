// Package version holds build-time identification, stamped via -ldflags.
package version

// Version and Commit are overridden at build time with:
//
//	-ldflags "-X github.com/duskrelay/chatproxy/internal/version.Version=... -X .../version.Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)

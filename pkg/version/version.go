// Package version exposes the build identity of the sigillo binary.
package version

// Build identity, overridden at link time:
//
//	go build -ldflags "-X .../pkg/version.Version=v1.2.3 ..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

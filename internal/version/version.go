// Package version holds build metadata set via -ldflags.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)

// Info returns the human-readable "version (commit)" string.
func Info() string {
	return Version + " (" + Commit + ")"
}

package version

import "fmt"

var (
	// Version is the semantic version of the binary. Set with -ldflags "-X".
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("fxwatcher/%s", Version)
}

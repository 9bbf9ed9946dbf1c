package version

import "fmt"

// Set at build time with -ldflags "-X github.com/bizflycloud/crisis-stream/pkg/version.version=...".
var (
	version   string
	commit    string
	buildTime string
)

// Version returns the build version.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

func Commit() string {
	return commit
}

func BuildTime() string {
	return buildTime
}

// String returns a one line summary of the build.
func String() string {
	return fmt.Sprintf("version: %s, commit: %s, build time: %s", Version(), commit, buildTime)
}

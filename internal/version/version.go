package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the binary. Overridden via -ldflags "-X".
	Version = "0.1.0"
	// Commit is the git commit hash injected at build time.
	Commit = "dev"
	// BuildDate is the build timestamp injected at build time.
	BuildDate = "unknown"
)

// Info is the build metadata reported by `testpilot version`.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	Go        string `json:"go" yaml:"go"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Full returns a human-friendly version string.
func Full() string {
	return fmt.Sprintf("%s (commit:%s, built:%s)", Version, Commit, BuildDate)
}

// UserAgent identifies the client to the generation service.
func UserAgent() string {
	return "testpilot/" + Version
}

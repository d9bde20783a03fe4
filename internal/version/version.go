package version

const (
	// Name of the application
	Name = "Vigil"
)

var (
	// Version is the semantic version
	Version = "0.1.0"
	// BuildTime is set during build via ldflags
	BuildTime = "unknown"
	// GitCommit is set during build via ldflags
	GitCommit = "unknown"
)

// Full returns the complete version string.
func Full() string {
	if BuildTime != "unknown" && GitCommit != "unknown" {
		return Version + " (commit: " + GitCommit + ", built: " + BuildTime + ")"
	}
	return Version
}

// Info is the payload served by the health endpoint.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Current returns the build information of the running binary.
func Current() Info {
	return Info{Name: Name, Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

package version

import (
	"fmt"
	"runtime"
)

// Name is the program name reported in build info and probe requests
const Name = "pingplot"

var (
	// Version is the current version of the application
	Version = "v0.1.0-dev"
	// GitCommit is the git commit that was compiled
	GitCommit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
	// GoVersion is the version of Go that was used to compile
	GoVersion = runtime.Version()
)

// Info represents version information
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

// String returns a formatted version string
func (i Info) String() string {
	return fmt.Sprintf("%s Version: %s, GitCommit: %s, BuildDate: %s, GoVersion: %s",
		i.Name, i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}

// UserAgent returns the User-Agent header sent by HTTP probes
func UserAgent() string {
	return Name + "/" + Version
}

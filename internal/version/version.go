// Package version implements reading of build version information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const (
	Major = 0
	Minor = 3
	Patch = 0
	Meta  = "stable"
)

// WithMeta is the textual version string including the metadata.
var WithMeta = func() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if Meta != "" {
		v += "-" + Meta
	}
	return v
}()

// ClientName creates a software name/version identifier according to common
// conventions in the Ethereum p2p network.
func ClientName(clientIdentifier string) string {
	return fmt.Sprintf("%s/%v/%v", clientIdentifier, WithMeta, runtime.GOARCH)
}

// Info returns version and VCS information about the current binary.
func Info() (version, vcs string) {
	version = WithMeta
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return version, ""
	}
	var commit, date string
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.time":
			date = s.Value
		}
	}
	if commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		vcs = commit
		if date != "" {
			vcs += "-" + date
		}
	}
	return version, vcs
}

// Package buildinfo reports the version of the running intake binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	-ldflags "-X github.com/otherjamesbrown/intake/pkg/buildinfo.Version=v0.3.0
//	          -X github.com/otherjamesbrown/intake/pkg/buildinfo.Commit=1f2e3d4"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info describes a running service.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
}

// Get returns build info for the named service. When no commit was stamped
// through ldflags the VCS revision recorded by the Go toolchain is used.
func Get(serviceName string) Info {
	info := Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
	if info.Commit == "unknown" {
		if rev, at := vcs(); rev != "" {
			info.Commit = rev
			if info.BuildTime == "unknown" && at != "" {
				info.BuildTime = at
			}
		}
	}
	return info
}

func vcs() (revision, at string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
			if len(revision) > 7 {
				revision = revision[:7]
			}
		case "vcs.time":
			at = s.Value
		}
	}
	return revision, at
}

// String returns a one-liner like "v0.3.0 (1f2e3d4, 2026-02-07T10:30:00Z)".
func String() string {
	info := Get("")
	return info.Version + " (" + info.Commit + ", " + info.BuildTime + ")"
}

// Handler serves Get(serviceName) as JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get(serviceName)) // nolint: errcheck
	}
}

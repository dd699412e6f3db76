package obs

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tubepilot_build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// ReadBuildInfo fills in commit and Go version from the binary when the
// linker did not set them.
func ReadBuildInfo(version, commit string) BuildInfo {
	info := BuildInfo{Version: version, Commit: commit}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Commit == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.Commit = s.Value
				}
			}
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

// InitBuildInfo publishes tubepilot_build_info and returns what it published.
func InitBuildInfo(version, commit string) BuildInfo {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	info := ReadBuildInfo(version, commit)
	buildInfo.Reset()
	buildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)
	return info
}

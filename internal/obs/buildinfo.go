package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idgate_build_info",
			Help: "Build metadata for the running idgate binary, value fixed at 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo registers idgate_build_info and pins
// build_info{version, commit, go_version} to 1 for the life of the process.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
		buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
	})
}

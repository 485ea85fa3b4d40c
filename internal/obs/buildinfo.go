package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Portal identity service build information.",
		},
		[]string{"version", "commit", "session_backend"},
	)
)

// InitBuildInfo registers build_info once and sets the series for this process to 1.
func InitBuildInfo(version, commit, sessionBackend string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, sessionBackend).Set(1)
}

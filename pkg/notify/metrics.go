package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	pollCycles    *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	announcements *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "daybreak_poll_cycles_total", Help: "Number of completed poll cycles"}, []string{"poller"})
		fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "daybreak_poll_fetch_failures_total", Help: "Number of failed or timed out fetches"}, []string{"poller"})
		announcements = promauto.NewCounterVec(prometheus.CounterOpts{Name: "daybreak_announcements_total", Help: "Number of dispatched announcements"}, []string{"poller"})
	})
}

package module_manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	modulesRunning  prometheus.Gauge
	lifecycleErrors *prometheus.CounterVec
	commandsTotal   *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		modulesRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "daybreak_modules_running", Help: "Number of running modules"})
		lifecycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "daybreak_module_lifecycle_errors_total", Help: "Number of failed lifecycle operations"}, []string{"op"})
		commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "daybreak_commands_total", Help: "Number of dispatched commands"}, []string{"command", "outcome"})
	})
}

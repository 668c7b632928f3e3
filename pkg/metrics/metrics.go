// Package metrics provides Prometheus metrics collection for the FlowCon
// control loop.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TrialMetrics tracks control-loop performance metrics and syncs with
// Prometheus, mirroring the teacher's QueueMetrics shape: a small
// mutex-guarded local snapshot alongside package-level vectors labeled
// by experiment name.
type TrialMetrics struct {
	experiment string

	mu          sync.RWMutex
	lastFleet   int
	lastWatch   int
	lastComplete int
	ticks       int64
}

// NewTrialMetrics creates a metrics collector for one experiment.
func NewTrialMetrics(experiment string) *TrialMetrics {
	return &TrialMetrics{experiment: experiment}
}

// RecordTick updates the fleet-size gauges after one control-loop tick.
func (m *TrialMetrics) RecordTick(fleetSize, watching, completing int) {
	m.mu.Lock()
	m.lastFleet = fleetSize
	m.lastWatch = watching
	m.lastComplete = completing
	m.ticks++
	m.mu.Unlock()

	fleetSizeGauge.WithLabelValues(m.experiment).Set(float64(fleetSize))
	watchingGauge.WithLabelValues(m.experiment).Set(float64(watching))
	completingGauge.WithLabelValues(m.experiment).Set(float64(completing))
	ticksTotal.WithLabelValues(m.experiment).Inc()
}

// RecordCPULimit updates the per-container CPU limit gauge.
func (m *TrialMetrics) RecordCPULimit(containerID string, cores float64) {
	cpuLimitGauge.WithLabelValues(m.experiment, containerID).Set(cores)
}

// RecordTickDuration observes how long one control-loop tick took.
func (m *TrialMetrics) RecordTickDuration(d time.Duration) {
	tickDuration.WithLabelValues(m.experiment).Observe(d.Seconds())
}

// RecordRuntimeError increments the runtime call failure counter.
func (m *TrialMetrics) RecordRuntimeError() {
	runtimeErrors.WithLabelValues(m.experiment).Inc()
}

// Snapshot returns the last recorded tick's counts, for tests and
// diagnostics without scraping Prometheus.
func (m *TrialMetrics) Snapshot() (fleetSize, watching, completing int, ticks int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastFleet, m.lastWatch, m.lastComplete, m.ticks
}

var (
	fleetSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowcon_fleet_size",
			Help: "Current number of containers tracked by the control loop",
		},
		[]string{"experiment"},
	)

	watchingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowcon_fleet_watching",
			Help: "Current number of containers classified as watching",
		},
		[]string{"experiment"},
	)

	completingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowcon_fleet_completing",
			Help: "Current number of containers classified as completing",
		},
		[]string{"experiment"},
	)

	cpuLimitGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowcon_container_cpu_limit_cores",
			Help: "Current CPU limit of a container, in whole cores",
		},
		[]string{"experiment", "container_id"},
	)

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcon_control_loop_ticks_total",
			Help: "Total number of control-loop ticks executed",
		},
		[]string{"experiment"},
	)

	runtimeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcon_runtime_errors_total",
			Help: "Total number of container runtime call failures",
		},
		[]string{"experiment"},
	)

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcon_control_loop_tick_duration_seconds",
			Help:    "Duration of each control-loop tick",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"experiment"},
	)
)

func init() {
	prometheus.MustRegister(
		fleetSizeGauge,
		watchingGauge,
		completingGauge,
		cpuLimitGauge,
		ticksTotal,
		runtimeErrors,
		tickDuration,
	)
}

package metrics

import (
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/mode"
	"github.com/prometheus/client_golang/prometheus"
)

const stateSubsystem = "state"

type stateMetrics struct {
	mode      prometheus.Gauge
	pending   prometheus.Gauge
	flushTime prometheus.Histogram
}

func newStateMetrics() stateMetrics {
	return stateMetrics{
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: stateSubsystem,
			Name:      "mode",
			Help:      "Filesystem mode: 0 read-write, 1 read-only, 2 degraded",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: stateSubsystem,
			Name:      "pending_records",
			Help:      "Number of metadata records not flushed yet",
		}),
		flushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: stateSubsystem,
			Name:      "flush_time",
			Help:      "Filesystem flush handling time",
		}),
	}
}

func (m stateMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.mode, m.pending, m.flushTime)
}

// SetMode updates filesystem mode metric.
func (m stateMetrics) SetMode(v mode.Mode) {
	m.mode.Set(float64(v))
}

// SetPendingRecords updates the number of unflushed metadata records.
func (m stateMetrics) SetPendingRecords(n int) {
	m.pending.Set(float64(n))
}

// AddFlushDuration records a filesystem flush.
func (m stateMetrics) AddFlushDuration(seconds float64) {
	m.flushTime.Observe(seconds)
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const handleSubsystem = "handle"

const opLabelKey = "op"

type handleMetrics struct {
	opDuration *prometheus.HistogramVec
	opBytes    *prometheus.CounterVec
	opErrors   *prometheus.CounterVec
}

func newHandleMetrics() handleMetrics {
	return handleMetrics{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: handleSubsystem,
			Name:      "op_time",
			Help:      "Object handle operations handling time",
		}, []string{opLabelKey}),
		opBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: handleSubsystem,
			Name:      "bytes_total",
			Help:      "Number of bytes passed through object handle operations",
		}, []string{opLabelKey}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: handleSubsystem,
			Name:      "errors_total",
			Help:      "Number of failed object handle operations",
		}, []string{opLabelKey}),
	}
}

func (m handleMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.opDuration, m.opBytes, m.opErrors)
}

// AddOp records a finished handle operation.
func (m handleMetrics) AddOp(op string, d time.Duration, bytes int, err error) {
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
	if bytes > 0 {
		m.opBytes.WithLabelValues(op).Add(float64(bytes))
	}
	if err != nil {
		m.opErrors.WithLabelValues(op).Inc()
	}
}

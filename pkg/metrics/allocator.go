package metrics

import "github.com/prometheus/client_golang/prometheus"

const allocatorSubsystem = "allocator"

type allocatorMetrics struct {
	allocated prometheus.Gauge
	free      prometheus.Gauge
}

func newAllocatorMetrics() allocatorMetrics {
	return allocatorMetrics{
		allocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: allocatorSubsystem,
			Name:      "allocated_bytes",
			Help:      "Committed allocated device bytes",
		}),
		free: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: allocatorSubsystem,
			Name:      "free_bytes",
			Help:      "Device bytes available for allocation",
		}),
	}
}

func (m allocatorMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.allocated, m.free)
}

// SetAllocatedBytes implements allocator.Metrics.
func (m allocatorMetrics) SetAllocatedBytes(v uint64) {
	m.allocated.Set(float64(v))
}

// SetFreeBytes implements allocator.Metrics.
func (m allocatorMetrics) SetFreeBytes(v uint64) {
	m.free.Set(float64(v))
}

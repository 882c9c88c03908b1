package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "extentstore"

// StoreMetrics collects metrics of an object store filesystem.
type StoreMetrics struct {
	handleMetrics
	allocatorMetrics
	stateMetrics
}

// NewStoreMetrics creates filesystem metrics and registers them in reg.
func NewStoreMetrics(reg prometheus.Registerer, version string) *StoreMetrics {
	handle := newHandleMetrics()
	handle.register(reg)

	alloc := newAllocatorMetrics()
	alloc.register(reg)

	state := newStateMetrics()
	state.register(reg)

	registerVersionMetric(reg, namespace, version)

	return &StoreMetrics{
		handleMetrics:    handle,
		allocatorMetrics: alloc,
		stateMetrics:     state,
	}
}

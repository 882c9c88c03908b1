package metrics

import "github.com/prometheus/client_golang/prometheus"

func registerVersionMetric(reg prometheus.Registerer, namespace string, version string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "version",
		Help:      "Version of the running binary",
		ConstLabels: prometheus.Labels{
			"version": version,
		},
	})

	reg.MustRegister(g)
	g.Set(1)
}

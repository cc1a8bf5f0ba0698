// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolReplicas is the replica count last applied by the autoscaler.
	PoolReplicas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genstream_pool_replicas",
		Help: "Worker replicas currently configured",
	})

	// ScaleDecisionsTotal counts applied and held decisions.
	ScaleDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_autoscale_decisions_total",
		Help: "Autoscaler decisions by action",
	}, []string{"action"}) // action=scale_up|scale_down|none|unavailable|apply_failed

	poolUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genstream_pool_utilization_ratio",
		Help: "Last sampled pool utilization (0..1)",
	}, []string{"resource"}) // resource=cpu|memory
)

// RecordScaleDecision counts one decision.
func RecordScaleDecision(action string) {
	ScaleDecisionsTotal.WithLabelValues(action).Inc()
}

// SetUtilization publishes the last sample.
func SetUtilization(cpu, memory float64) {
	poolUtilization.WithLabelValues("cpu").Set(cpu)
	poolUtilization.WithLabelValues("memory").Set(memory)
}

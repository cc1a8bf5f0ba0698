// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueAdmissionsTotal counts enqueue outcomes.
	QueueAdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_queue_admissions_total",
		Help: "Task admissions by outcome",
	}, []string{"backend", "outcome"}) // outcome=admitted|duplicate|error

	// QueueLeasesTotal counts lease attempts.
	QueueLeasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_queue_leases_total",
		Help: "Lease attempts by outcome",
	}, []string{"backend", "outcome"}) // outcome=leased|empty|error

	// QueueReclaimedTotal counts expired leases handled by reclaim.
	QueueReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_queue_reclaimed_total",
		Help: "Expired leases by outcome",
	}, []string{"backend", "outcome"}) // outcome=requeued|dead_lettered

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genstream_queue_depth",
		Help: "Tasks by state at the last stats sample",
	}, []string{"state"}) // state=pending|leased|dead
)

// RecordAdmission counts one enqueue outcome.
func RecordAdmission(backend, outcome string) {
	QueueAdmissionsTotal.WithLabelValues(backend, outcome).Inc()
}

// RecordLease counts one lease attempt.
func RecordLease(backend, outcome string) {
	QueueLeasesTotal.WithLabelValues(backend, outcome).Inc()
}

// RecordReclaim counts requeued and dead-lettered tasks from one sweep.
func RecordReclaim(backend string, requeued, deadLettered int) {
	if requeued > 0 {
		QueueReclaimedTotal.WithLabelValues(backend, "requeued").Add(float64(requeued))
	}
	if deadLettered > 0 {
		QueueReclaimedTotal.WithLabelValues(backend, "dead_lettered").Add(float64(deadLettered))
	}
}

// SetQueueDepth publishes a stats snapshot.
func SetQueueDepth(pending, leased, dead int) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("leased").Set(float64(leased))
	queueDepth.WithLabelValues("dead").Set(float64(dead))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerJobsTotal counts finished jobs by result.
	WorkerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_worker_jobs_total",
		Help: "Worker jobs by result",
	}, []string{"result"}) // result=completed|already_complete|lease_lost|failed|canceled

	// WorkerEventsProduced counts events appended by workers.
	WorkerEventsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genstream_worker_events_produced_total",
		Help: "Events appended to session logs by workers",
	})

	workerJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genstream_worker_job_duration_seconds",
		Help:    "Wall time per job",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 30, 60},
	}, []string{"result"})

	// WorkerInflightJobs is the number of jobs currently executing in this process.
	WorkerInflightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genstream_worker_inflight_jobs",
		Help: "Jobs currently executing",
	})
)

// RecordJob counts one finished job and its duration.
func RecordJob(result string, d time.Duration) {
	WorkerJobsTotal.WithLabelValues(result).Inc()
	workerJobDuration.WithLabelValues(result).Observe(d.Seconds())
}

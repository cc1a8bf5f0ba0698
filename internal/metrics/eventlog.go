// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LogAppendsTotal counts event log appends by backend and result.
	LogAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_eventlog_appends_total",
		Help: "Event log appends by backend and result",
	}, []string{"backend", "result"}) // result=ok|unavailable

	// LogReadsTotal counts tail reads by backend and result.
	LogReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_eventlog_reads_total",
		Help: "Event log tail reads by backend and result",
	}, []string{"backend", "result"}) // result=ok|timeout|unavailable|canceled

	logReadEntries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genstream_eventlog_read_batch_entries",
		Help:    "Entries returned per successful tail read",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	}, []string{"backend"})
)

// RecordLogAppend counts one append.
func RecordLogAppend(backend, result string) {
	LogAppendsTotal.WithLabelValues(backend, result).Inc()
}

// RecordLogRead counts one tail read and, when successful, its batch size.
func RecordLogRead(backend, result string, entries int) {
	LogReadsTotal.WithLabelValues(backend, result).Inc()
	if entries > 0 {
		logReadEntries.WithLabelValues(backend).Observe(float64(entries))
	}
}

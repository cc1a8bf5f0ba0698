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
	// StreamsActive is the number of open relay streams.
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genstream_gateway_streams_active",
		Help: "Open relay streams",
	})

	// StreamsTotal counts finished relay streams by outcome.
	StreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_gateway_streams_total",
		Help: "Finished relay streams by outcome",
	}, []string{"outcome"}) // outcome=done|timeout|unavailable|canceled|error

	timeToFirstEvent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "genstream_gateway_time_to_first_event_seconds",
		Help:    "Time from stream request to the first relayed event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// RecordStreamEnd counts one finished stream.
func RecordStreamEnd(outcome string) {
	StreamsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTimeToFirstEvent records the first-event latency of a stream.
func ObserveTimeToFirstEvent(d time.Duration) {
	timeToFirstEvent.Observe(d.Seconds())
}

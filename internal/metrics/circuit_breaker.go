// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers are named after the backend they guard, e.g. eventlog_redis.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genstream_backend_breaker_state",
		Help: "Backend circuit breaker state; the series of the current state is 1",
	}, []string{"breaker", "state"})

	// BreakerTripsTotal counts transitions to open, by what caused them.
	BreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_backend_breaker_trips_total",
		Help: "Backend circuit breaker openings by reason (threshold_exceeded, probe_failed)",
	}, []string{"breaker", "reason"})

	// BreakerRejectedTotal counts calls refused without reaching the backend.
	BreakerRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstream_backend_breaker_rejected_total",
		Help: "Backend calls failed fast while the breaker was open or probing",
	}, []string{"breaker"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetBreakerState marks state as current for breaker and clears the others.
func SetBreakerState(breaker, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(breaker, s).Set(v)
	}
}

func RecordBreakerTrip(breaker, reason string) {
	BreakerTripsTotal.WithLabelValues(breaker, reason).Inc()
}

func RecordBreakerRejected(breaker string) {
	BreakerRejectedTotal.WithLabelValues(breaker).Inc()
}

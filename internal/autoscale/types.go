// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package autoscale

import (
	"context"
	"errors"
	"time"
)

// ErrMetricsUnavailable is returned by a MetricsSource that cannot sample.
var ErrMetricsUnavailable = errors.New("utilization metrics unavailable")

// Action represents a scaling decision action.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionNone      Action = "none"
)

func (a Action) String() string { return string(a) }

// Decision is the outcome of evaluating the policy for one sample.
type Decision struct {
	Action Action
	// From and To are replica counts; equal when Action is ActionNone.
	From int
	To   int
	// Reason is a human-readable explanation of the decision.
	Reason string
}

// Sample is utilization averaged across the current replicas, each in [0, 1].
type Sample struct {
	CPU    float64
	Memory float64
}

// PoolState is the autoscaler's view of the pool. Min <= Replicas <= Max
// holds after every committed decision.
type PoolState struct {
	Replicas        int
	Min             int
	Max             int
	LastScaleUpAt   time.Time
	LastScaleDownAt time.Time
}

func (s PoolState) lastActionAt() time.Time {
	if s.LastScaleUpAt.After(s.LastScaleDownAt) {
		return s.LastScaleUpAt
	}
	return s.LastScaleDownAt
}

// MetricsSource provides utilization samples.
type MetricsSource interface {
	Sample(ctx context.Context) (Sample, error)
}

// Scaler applies a replica count.
type Scaler interface {
	Resize(ctx context.Context, replicas int) error
}

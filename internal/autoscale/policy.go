// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package autoscale

import (
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultCPUThreshold    = 0.7
	DefaultMemoryThreshold = 0.8
	DefaultScaleUpWindow   = 30 * time.Second
	DefaultScaleDownWindow = 300 * time.Second
	DefaultCooldown        = 60 * time.Second
	DefaultStep            = 1
)

// Option configures a Policy.
type Option func(*Policy)

// WithCPUThreshold sets the CPU utilization above which the pool is hot.
func WithCPUThreshold(v float64) Option {
	return func(p *Policy) { p.cpuThreshold = v }
}

// WithMemoryThreshold sets the memory utilization above which the pool is hot.
func WithMemoryThreshold(v float64) Option {
	return func(p *Policy) { p.memoryThreshold = v }
}

// WithScaleUpWindow sets how long the pool must stay hot before scaling up.
func WithScaleUpWindow(d time.Duration) Option {
	return func(p *Policy) { p.scaleUpWindow = d }
}

// WithScaleDownWindow sets how long the pool must stay idle before scaling
// down, and the minimum quiet time after any action.
func WithScaleDownWindow(d time.Duration) Option {
	return func(p *Policy) { p.scaleDownWindow = d }
}

// WithCooldown sets the minimum time between actions of the same direction.
func WithCooldown(d time.Duration) Option {
	return func(p *Policy) { p.cooldown = d }
}

// WithStep sets the number of replicas added or removed per action.
func WithStep(n int) Option {
	return func(p *Policy) { p.step = n }
}

// Policy holds the thresholds and windows. It is an immutable value; replace
// it wholesale to reconfigure.
type Policy struct {
	cpuThreshold    float64
	memoryThreshold float64
	scaleUpWindow   time.Duration
	scaleDownWindow time.Duration
	cooldown        time.Duration
	step            int
}

// NewPolicy creates a Policy with the given options. Unset options use defaults.
func NewPolicy(opts ...Option) Policy {
	p := Policy{
		cpuThreshold:    DefaultCPUThreshold,
		memoryThreshold: DefaultMemoryThreshold,
		scaleUpWindow:   DefaultScaleUpWindow,
		scaleDownWindow: DefaultScaleDownWindow,
		cooldown:        DefaultCooldown,
		step:            DefaultStep,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Validate rejects thresholds outside (0, 1] and non-positive windows.
func (p Policy) Validate() error {
	switch {
	case p.cpuThreshold <= 0 || p.cpuThreshold > 1:
		return fmt.Errorf("cpu threshold %.2f outside (0, 1]", p.cpuThreshold)
	case p.memoryThreshold <= 0 || p.memoryThreshold > 1:
		return fmt.Errorf("memory threshold %.2f outside (0, 1]", p.memoryThreshold)
	case p.scaleUpWindow < 0 || p.scaleDownWindow < 0 || p.cooldown < 0:
		return fmt.Errorf("windows and cooldown must not be negative")
	case p.step < 1:
		return fmt.Errorf("step must be at least 1, got %d", p.step)
	}
	return nil
}

// Streaks tracks how long the pool has continuously been hot or idle.
type Streaks struct {
	HighSince time.Time
	LowSince  time.Time
}

// Reset forgets both streaks.
func (s *Streaks) Reset() { *s = Streaks{} }

func (s *Streaks) observe(now time.Time, high, low bool) {
	if high {
		if s.HighSince.IsZero() {
			s.HighSince = now
		}
	} else {
		s.HighSince = time.Time{}
	}
	if low {
		if s.LowSince.IsZero() {
			s.LowSince = now
		}
	} else {
		s.LowSince = time.Time{}
	}
}

// Evaluate updates streaks with sample and decides the next replica count.
// It never returns a target outside [state.Min, state.Max].
func (p Policy) Evaluate(now time.Time, sample Sample, state PoolState, streaks *Streaks) Decision {
	high := sample.CPU > p.cpuThreshold || sample.Memory > p.memoryThreshold
	low := sample.CPU < p.cpuThreshold && sample.Memory < p.memoryThreshold
	streaks.observe(now, high, low)

	hold := func(reason string) Decision {
		return Decision{Action: ActionNone, From: state.Replicas, To: state.Replicas, Reason: reason}
	}

	// Bounds may have moved under a running pool (reconfiguration).
	if state.Replicas < state.Min {
		return Decision{Action: ActionScaleUp, From: state.Replicas, To: state.Min, Reason: "below minimum replicas"}
	}
	if state.Replicas > state.Max {
		return Decision{Action: ActionScaleDown, From: state.Replicas, To: state.Max, Reason: "above maximum replicas"}
	}

	switch {
	case high:
		if now.Sub(streaks.HighSince) < p.scaleUpWindow {
			return hold("hot, waiting for scale-up window")
		}
		if state.Replicas >= state.Max {
			return hold("hot, at maximum replicas")
		}
		if !state.LastScaleUpAt.IsZero() && now.Sub(state.LastScaleUpAt) < p.cooldown {
			return hold("scale-up cooldown active")
		}
		return Decision{
			Action: ActionScaleUp,
			From:   state.Replicas,
			To:     min(state.Replicas+p.step, state.Max),
			Reason: fmt.Sprintf("cpu %.2f mem %.2f above thresholds for %s", sample.CPU, sample.Memory, now.Sub(streaks.HighSince)),
		}

	case low:
		if now.Sub(streaks.LowSince) < p.scaleDownWindow {
			return hold("idle, waiting for scale-down window")
		}
		if state.Replicas <= state.Min {
			return hold("idle, at minimum replicas")
		}
		if last := state.lastActionAt(); !last.IsZero() && now.Sub(last) < p.scaleDownWindow {
			return hold("recent scale action")
		}
		if !state.LastScaleDownAt.IsZero() && now.Sub(state.LastScaleDownAt) < p.cooldown {
			return hold("scale-down cooldown active")
		}
		return Decision{
			Action: ActionScaleDown,
			From:   state.Replicas,
			To:     max(state.Replicas-p.step, state.Min),
			Reason: fmt.Sprintf("cpu %.2f mem %.2f below thresholds for %s", sample.CPU, sample.Memory, now.Sub(streaks.LowSince)),
		}
	}
	return hold("within thresholds")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package autoscale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/metrics"
)

// DefaultSampleInterval is the control loop period.
const DefaultSampleInterval = 15 * time.Second

// Controller is the only writer of PoolState.
type Controller struct {
	mu       sync.Mutex
	policy   Policy
	state    PoolState
	streaks  Streaks
	source   MetricsSource
	scaler   Scaler
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSampleInterval sets the control loop period.
func WithSampleInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController validates policy and bounds. initial is the replica count the
// scaler is already running.
func NewController(source MetricsSource, scaler Scaler, policy Policy, minReplicas, maxReplicas, initial int, opts ...ControllerOption) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("autoscale policy: %w", err)
	}
	if err := validateBounds(minReplicas, maxReplicas); err != nil {
		return nil, err
	}
	if initial < minReplicas || initial > maxReplicas {
		return nil, fmt.Errorf("initial replicas %d outside [%d, %d]", initial, minReplicas, maxReplicas)
	}
	c := &Controller{
		policy:   policy,
		state:    PoolState{Replicas: initial, Min: minReplicas, Max: maxReplicas},
		source:   source,
		scaler:   scaler,
		interval: DefaultSampleInterval,
		now:      time.Now,
		logger:   gslog.WithComponent("autoscale"),
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.PoolReplicas.Set(float64(initial))
	return c, nil
}

func validateBounds(minReplicas, maxReplicas int) error {
	if minReplicas < 0 || maxReplicas < 1 || minReplicas > maxReplicas {
		return fmt.Errorf("invalid replica bounds [%d, %d]", minReplicas, maxReplicas)
	}
	return nil
}

// Run samples every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	c.logger.Info().
		Str(gslog.FieldEvent, "autoscale.started").
		Dur("interval", c.interval).
		Int(gslog.FieldReplicas, c.State().Replicas).
		Msg("autoscaler started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := c.Step(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Str(gslog.FieldEvent, "autoscale.apply_failed").Msg("scale decision not applied")
			}
		}
	}
}

// Step runs one sample-decide-apply cycle. An unavailable sample holds and
// resets the streaks. A scaler error leaves the state untouched and is
// returned.
func (c *Controller) Step(ctx context.Context) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hold := Decision{Action: ActionNone, From: c.state.Replicas, To: c.state.Replicas}

	sample, err := c.source.Sample(ctx)
	if err != nil {
		c.streaks.Reset()
		metrics.RecordScaleDecision("unavailable")
		if !errors.Is(err, ErrMetricsUnavailable) {
			err = fmt.Errorf("%w: %w", ErrMetricsUnavailable, err)
		}
		c.logger.Debug().Err(err).Str(gslog.FieldEvent, "autoscale.hold").Msg("metrics unavailable, holding")
		hold.Reason = "metrics unavailable"
		return hold, nil
	}
	metrics.SetUtilization(sample.CPU, sample.Memory)

	now := c.now()
	d := c.policy.Evaluate(now, sample, c.state, &c.streaks)
	if d.Action == ActionNone {
		metrics.RecordScaleDecision(string(ActionNone))
		return d, nil
	}

	if err := c.scaler.Resize(ctx, d.To); err != nil {
		metrics.RecordScaleDecision("apply_failed")
		hold.Reason = "resize failed"
		return hold, fmt.Errorf("resize %d -> %d: %w", d.From, d.To, err)
	}

	c.state.Replicas = d.To
	switch d.Action {
	case ActionScaleUp:
		c.state.LastScaleUpAt = now
	case ActionScaleDown:
		c.state.LastScaleDownAt = now
	}
	metrics.RecordScaleDecision(string(d.Action))
	metrics.PoolReplicas.Set(float64(d.To))
	c.logger.Info().
		Str(gslog.FieldEvent, "autoscale."+string(d.Action)).
		Int(gslog.FieldOldReplicas, d.From).
		Int(gslog.FieldNewReplicas, d.To).
		Str(gslog.FieldReason, d.Reason).
		Msg("pool resized")
	return d, nil
}

// Reconfigure swaps the policy and bounds. Streaks keep running; an
// out-of-bounds replica count is corrected on the next step.
func (c *Controller) Reconfigure(policy Policy, minReplicas, maxReplicas int) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("autoscale policy: %w", err)
	}
	if err := validateBounds(minReplicas, maxReplicas); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
	c.state.Min = minReplicas
	c.state.Max = maxReplicas
	return nil
}

// State returns a snapshot of the pool state.
func (c *Controller) State() PoolState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

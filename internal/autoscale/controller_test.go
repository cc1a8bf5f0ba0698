// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package autoscale

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedSource struct {
	mu      sync.Mutex
	samples []Sample
	errs    []error
	i       int
}

func (s *scriptedSource) Sample(context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.i
	s.i++
	if i < len(s.errs) && s.errs[i] != nil {
		return Sample{}, s.errs[i]
	}
	if i >= len(s.samples) {
		return s.samples[len(s.samples)-1], nil
	}
	return s.samples[i], nil
}

type recordingScaler struct {
	mu      sync.Mutex
	applied []int
	fail    error
}

func (r *recordingScaler) Resize(_ context.Context, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.applied = append(r.applied, n)
	return nil
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func TestNewController_RejectsBadBounds(t *testing.T) {
	_, err := NewController(&scriptedSource{}, &recordingScaler{}, NewPolicy(), 3, 2, 2)
	assert.Error(t, err)
	_, err = NewController(&scriptedSource{}, &recordingScaler{}, NewPolicy(), 1, 4, 5)
	assert.Error(t, err)
	_, err = NewController(&scriptedSource{}, &recordingScaler{}, NewPolicy(WithStep(0)), 1, 4, 1)
	assert.Error(t, err)
}

func TestController_CommitsAfterApply(t *testing.T) {
	clock := &stepClock{now: time.Unix(50_000, 0)}
	src := &scriptedSource{samples: []Sample{hot}}
	scaler := &recordingScaler{}
	c, err := NewController(src, scaler, NewPolicy(WithScaleUpWindow(0)), 1, 4, 1, WithClock(clock.Now))
	require.NoError(t, err)

	d, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionScaleUp, d.Action)
	assert.Equal(t, []int{2}, scaler.applied)

	state := c.State()
	assert.Equal(t, 2, state.Replicas)
	assert.Equal(t, clock.now, state.LastScaleUpAt)
}

func TestController_FailedApplyLeavesState(t *testing.T) {
	src := &scriptedSource{samples: []Sample{hot}}
	scaler := &recordingScaler{fail: errors.New("orchestrator down")}
	c, err := NewController(src, scaler, NewPolicy(WithScaleUpWindow(0)), 1, 4, 1)
	require.NoError(t, err)

	d, err := c.Step(context.Background())
	require.Error(t, err)
	assert.Equal(t, ActionNone, d.Action)

	state := c.State()
	assert.Equal(t, 1, state.Replicas)
	assert.True(t, state.LastScaleUpAt.IsZero())
}

func TestController_UnavailableMetricsHoldAndResetStreaks(t *testing.T) {
	clock := &stepClock{now: time.Unix(50_000, 0)}
	src := &scriptedSource{
		samples: []Sample{hot, hot, hot, hot},
		errs:    []error{nil, ErrMetricsUnavailable, nil, nil},
	}
	scaler := &recordingScaler{}
	c, err := NewController(src, scaler, NewPolicy(WithScaleUpWindow(20*time.Second)), 1, 4, 1, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := c.Step(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ActionNone, d.Action, "step %d", i)
		clock.now = clock.now.Add(15 * time.Second)
	}
	// Without the reset the window would have been met at the third sample.
	d, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
	assert.Empty(t, scaler.applied)
}

func TestController_ReconfigureClampsOnNextStep(t *testing.T) {
	src := &scriptedSource{samples: []Sample{{CPU: 0.5, Memory: 0.5}}}
	scaler := &recordingScaler{}
	c, err := NewController(src, scaler, NewPolicy(), 1, 10, 6)
	require.NoError(t, err)

	require.NoError(t, c.Reconfigure(NewPolicy(WithCPUThreshold(0.9)), 1, 4))
	d, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionScaleDown, d.Action)
	assert.Equal(t, 4, c.State().Replicas)

	assert.Error(t, c.Reconfigure(NewPolicy(), 5, 4))
}

// Random utilization must never push replicas outside the bounds, and no
// scale-down may follow a scale-up within the idle window.
func TestController_RandomSequencesKeepInvariants(t *testing.T) {
	const (
		minReplicas = 2
		maxReplicas = 7
		interval    = 15 * time.Second
	)
	policy := NewPolicy(
		WithScaleUpWindow(30*time.Second),
		WithScaleDownWindow(120*time.Second),
		WithCooldown(45*time.Second),
		WithStep(2),
	)

	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		samples := make([]Sample, 400)
		errs := make([]error, 400)
		for i := range samples {
			// Long runs of similar load so both directions trigger.
			phase := (i / 20) % 3
			base := []float64{0.95, 0.05, 0.6}[phase]
			samples[i] = Sample{CPU: clamp01(base + rng.Float64()*0.1 - 0.05), Memory: rng.Float64() * 0.5}
			if rng.Intn(40) == 0 {
				errs[i] = ErrMetricsUnavailable
			}
		}

		clock := &stepClock{now: time.Unix(100_000, 0)}
		c, err := NewController(&scriptedSource{samples: samples, errs: errs}, &recordingScaler{}, policy,
			minReplicas, maxReplicas, minReplicas, WithClock(clock.Now))
		require.NoError(t, err)

		var lastUp time.Time
		for i := 0; i < len(samples); i++ {
			d, err := c.Step(context.Background())
			require.NoError(t, err)

			state := c.State()
			require.GreaterOrEqual(t, state.Replicas, minReplicas, "seed %d step %d", seed, i)
			require.LessOrEqual(t, state.Replicas, maxReplicas, "seed %d step %d", seed, i)

			switch d.Action {
			case ActionScaleUp:
				lastUp = clock.now
			case ActionScaleDown:
				if !lastUp.IsZero() {
					require.GreaterOrEqual(t, clock.now.Sub(lastUp), policy.scaleDownWindow, "seed %d step %d", seed, i)
				}
			}
			clock.now = clock.now.Add(interval)
		}
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func TestController_RunStopsOnCancel(t *testing.T) {
	src := &scriptedSource{samples: []Sample{idle}}
	c, err := NewController(src, &recordingScaler{}, NewPolicy(), 1, 2, 1, WithSampleInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.i >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

// SPDX-License-Identifier: MIT

package health

import (
	"context"

	"github.com/ManuGH/genstream/internal/resilience"
)

// Pinger is satisfied by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a backend as unhealthy when Ping fails.
type PingChecker struct {
	name string
	p    Pinger
}

// NewPingChecker creates a checker that pings p.
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, p: p}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.p.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "backend unreachable"}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// StaticChecker always returns the same result, for in-process backends.
type StaticChecker struct {
	name   string
	result CheckResult
}

// NewStaticChecker creates a checker with a fixed result.
func NewStaticChecker(name string, result CheckResult) *StaticChecker {
	return &StaticChecker{name: name, result: result}
}

func (c *StaticChecker) Name() string { return c.name }

func (c *StaticChecker) Check(context.Context) CheckResult { return c.result }

// BreakerState is the read side of a circuit breaker.
type BreakerState interface {
	Name() string
	State() resilience.State
}

// BreakerChecker maps a circuit breaker to component health: open is unhealthy,
// half-open is degraded.
type BreakerChecker struct {
	b BreakerState
}

// NewBreakerChecker creates a checker named after the breaker.
func NewBreakerChecker(b BreakerState) *BreakerChecker {
	return &BreakerChecker{b: b}
}

func (c *BreakerChecker) Name() string { return "breaker_" + c.b.Name() }

func (c *BreakerChecker) Check(context.Context) CheckResult {
	switch s := c.b.State(); s {
	case resilience.StateOpen:
		return CheckResult{Status: StatusUnhealthy, Message: "circuit " + string(s)}
	case resilience.StateHalfOpen:
		return CheckResult{Status: StatusDegraded, Message: "circuit " + string(s)}
	default:
		return CheckResult{Status: StatusHealthy, Message: "circuit " + string(s)}
	}
}

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewFuncChecker creates a checker backed by fn.
func NewFuncChecker(name string, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

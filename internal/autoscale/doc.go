// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package autoscale resizes the worker pool from sampled utilization.
//
// A Policy turns one sample plus the current PoolState into a Decision.
// Hysteresis comes from three rules: a threshold must be crossed
// continuously for a window before acting, a cooldown suppresses repeated
// actions in the same direction, and scale-down additionally waits a full
// idle window after any action. The Controller samples on a fixed interval
// and commits a decision only after the Scaler applied it.
package autoscale

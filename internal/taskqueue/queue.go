// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package taskqueue admits generation tasks and hands them to workers under
// time-bounded leases. At most one task per session is pending or leased at
// any time; the session key doubles as the idempotency key.
package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ManuGH/genstream/internal/session"
)

var (
	ErrQueueEmpty       = errors.New("task queue empty")
	ErrLeaseExpired     = errors.New("task lease expired")
	ErrTaskNotFound     = errors.New("task not found")
	ErrQueueUnavailable = errors.New("task queue unavailable")
)

const (
	DefaultLeaseDuration = 60 * time.Second
	DefaultMaxAttempts   = 3
	DefaultName          = "genstream:queue"
)

// Task is one unit of generation work for a session.
type Task struct {
	ID             string
	Key            session.Key
	IdempotencyKey string
	CreatedAt      time.Time
	// Attempt counts deliveries; the first lease sets it to 1.
	Attempt     int
	LeaseOwner  string
	LeaseExpiry time.Time
}

// NewTask builds an unadmitted task for key.
func NewTask(key session.Key) Task {
	return Task{
		ID:             ulid.Make().String(),
		Key:            key,
		IdempotencyKey: key.String(),
	}
}

// Admission is the outcome of Enqueue.
type Admission int

const (
	Admitted Admission = iota + 1
	// DuplicateSuppressed means an equivalent task is already pending or
	// leased. It is not an error.
	DuplicateSuppressed
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case DuplicateSuppressed:
		return "duplicate_suppressed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of queue depth.
type Stats struct {
	Pending int
	Leased  int
	Dead    int
}

// ReclaimResult reports the expired leases handled by one Reclaim pass.
type ReclaimResult struct {
	Requeued     int
	DeadLettered int
}

// Queue is implemented by every task queue backend.
type Queue interface {
	Enqueue(ctx context.Context, task Task) (Admission, error)
	// Lease hands out the oldest pending task. It reclaims expired leases
	// first and returns ErrQueueEmpty when nothing is eligible.
	Lease(ctx context.Context, workerID string, d time.Duration) (Task, error)
	// Extend renews a held lease; ErrLeaseExpired once it is no longer held.
	Extend(ctx context.Context, taskID, workerID string, d time.Duration) error
	// Complete removes the task and releases its idempotency key.
	Complete(ctx context.Context, taskID, workerID string) error
	// Reclaim returns expired leases to pending, or dead-letters them once
	// the attempt ceiling is reached.
	Reclaim(ctx context.Context) (ReclaimResult, error)
	Stats(ctx context.Context) (Stats, error)
}

type options struct {
	now         func() time.Time
	maxAttempts int
	name        string
}

// Option configures a queue backend.
type Option func(*options)

// WithClock replaces time.Now for lease bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxAttempts sets the delivery ceiling. Zero disables dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithName sets the key prefix of the Redis backend.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, maxAttempts: DefaultMaxAttempts, name: DefaultName}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxAttempts < 0 {
		o.maxAttempts = 0
	}
	return o
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

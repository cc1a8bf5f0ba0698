// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package eventlog stores the per-session append-only logs that connect one
// producer to any number of streaming readers.
//
// A log is created by its first append and discarded a fixed TTL later,
// whether or not anyone read it. There is no delete operation.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/genstream/internal/session"
)

var (
	// ErrLogUnavailable reports an unreachable backend or a log that expired
	// underneath a reader that had already observed entries.
	ErrLogUnavailable = errors.New("event log unavailable")
	// ErrReadTimeout is returned by TailRead when the deadline passes with no new entries.
	ErrReadTimeout = errors.New("event log read timed out")
	// ErrInvalidCursor is returned for a cursor the backend did not produce.
	ErrInvalidCursor = errors.New("invalid event log cursor")
)

// DefaultTTL is the lifetime of a log measured from its first write.
const DefaultTTL = 60 * time.Second

// Cursor marks a read position inside one log. Cursors are opaque and only
// meaningful to the backend that returned them.
type Cursor string

// Start reads a log from its first entry.
const Start Cursor = ""

// Store is implemented by every event log backend.
//
// Append has a single writer per key: the worker holding the task lease.
// TailRead, Exists and Last are safe for any number of concurrent callers.
type Store interface {
	// Append adds entry at the tail of the log for key, creating the log
	// (and starting its TTL) when it does not exist.
	Append(ctx context.Context, key session.Key, entry session.Entry) error
	// TailRead returns the entries after cursor, blocking until at least one
	// exists or deadline passes.
	TailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error)
	// Exists reports whether the log holds at least one entry.
	Exists(ctx context.Context, key session.Key) (bool, error)
	// Last returns the tail entry. ok is false for an absent or empty log.
	Last(ctx context.Context, key session.Key) (entry session.Entry, ok bool, err error)
	Close() error
}

// Backend names used for configuration and metric labels.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendBadger = "badger"
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrReadTimeout):
		return "timeout"
	case errors.Is(err, ErrLogUnavailable):
		return "error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

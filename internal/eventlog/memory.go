// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/genstream/internal/metrics"
	"github.com/ManuGH/genstream/internal/session"
)

// MemoryStore keeps logs in process memory. It is used for tests and for
// single-process deployments where no Redis is available.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	logs    map[string]*memLog
	nextGen uint64
	closed  bool
	wake    *notifier
}

type memLog struct {
	gen     uint64
	entries []session.Entry
	timer   *time.Timer
}

// NewMemoryStore creates an empty store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:  ttl,
		logs: make(map[string]*memLog),
		wake: newNotifier(),
	}
}

func (s *MemoryStore) Append(ctx context.Context, key session.Key, entry session.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := key.StreamName()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.RecordLogAppend(BackendMemory, "error")
		return fmt.Errorf("%w: store closed", ErrLogUnavailable)
	}
	l, ok := s.logs[name]
	if !ok {
		s.nextGen++
		gen := s.nextGen
		l = &memLog{gen: gen}
		l.timer = time.AfterFunc(s.ttl, func() { s.expire(name, gen) })
		s.logs[name] = l
	}
	l.entries = append(l.entries, entry)
	s.mu.Unlock()

	s.wake.broadcast(name)
	metrics.RecordLogAppend(BackendMemory, "ok")
	return nil
}

func (s *MemoryStore) expire(name string, gen uint64) {
	s.mu.Lock()
	if l, ok := s.logs[name]; ok && l.gen == gen {
		delete(s.logs, name)
	}
	s.mu.Unlock()
	s.wake.broadcast(name)
}

func (s *MemoryStore) TailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error) {
	entries, next, err := s.tailRead(ctx, key, after, deadline)
	metrics.RecordLogRead(BackendMemory, resultLabel(err), len(entries))
	return entries, next, err
}

func (s *MemoryStore) tailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error) {
	name := key.StreamName()
	gen, off, err := parseMemCursor(after)
	if err != nil {
		return nil, after, err
	}

	for {
		wake := s.wake.wait(name)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, after, fmt.Errorf("%w: store closed", ErrLogUnavailable)
		}
		l, ok := s.logs[name]
		if after != Start && (!ok || l.gen != gen) {
			s.mu.Unlock()
			return nil, after, fmt.Errorf("%w: %s expired", ErrLogUnavailable, name)
		}
		if ok {
			if after == Start {
				gen, off = l.gen, 0
			}
			if off > len(l.entries) {
				s.mu.Unlock()
				return nil, after, fmt.Errorf("%w: offset %d beyond tail", ErrInvalidCursor, off)
			}
			if off < len(l.entries) {
				out := make([]session.Entry, len(l.entries)-off)
				copy(out, l.entries[off:])
				next := formatMemCursor(l.gen, len(l.entries))
				s.mu.Unlock()
				return out, next, nil
			}
		}
		s.mu.Unlock()

		if !time.Now().Before(deadline) {
			return nil, after, ErrReadTimeout
		}
		if err := sleepUntil(ctx, wake, deadline); err != nil {
			return nil, after, err
		}
	}
}

func (s *MemoryStore) Exists(ctx context.Context, key session.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("%w: store closed", ErrLogUnavailable)
	}
	l, ok := s.logs[key.StreamName()]
	return ok && len(l.entries) > 0, nil
}

func (s *MemoryStore) Last(ctx context.Context, key session.Key) (session.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return session.Entry{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.Entry{}, false, fmt.Errorf("%w: store closed", ErrLogUnavailable)
	}
	l, ok := s.logs[key.StreamName()]
	if !ok || len(l.entries) == 0 {
		return session.Entry{}, false, nil
	}
	return l.entries[len(l.entries)-1], true, nil
}

// Close drops every log and wakes blocked readers.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	for name, l := range s.logs {
		l.timer.Stop()
		delete(s.logs, name)
	}
	s.mu.Unlock()
	s.wake.closeAll()
	return nil
}

func formatMemCursor(gen uint64, off int) Cursor {
	return Cursor(strconv.FormatUint(gen, 10) + "-" + strconv.Itoa(off))
}

func parseMemCursor(c Cursor) (uint64, int, error) {
	if c == Start {
		return 0, 0, nil
	}
	g, o, ok := strings.Cut(string(c), "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	gen, err := strconv.ParseUint(g, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	off, err := strconv.Atoi(o)
	if err != nil || off < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	return gen, off, nil
}

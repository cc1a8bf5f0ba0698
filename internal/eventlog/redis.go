// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/genstream/internal/metrics"
	"github.com/ManuGH/genstream/internal/resilience"
	"github.com/ManuGH/genstream/internal/session"
)

const (
	// dataField holds the encoded entry in every stream record.
	dataField = "data"

	defaultBlockSlice = time.Second
	defaultReadCount  = 100
)

// appendScript adds one record and arms the TTL only on the first write, so
// later appends never extend the log's lifetime.
var appendScript = redis.NewScript(`
local id = redis.call('XADD', KEYS[1], '*', 'data', ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return id
`)

// RedisConfig tunes a RedisStore.
type RedisConfig struct {
	TTL time.Duration
	// BlockSlice caps a single XREAD BLOCK call. Long waits are split into
	// slices so expiry and cancellation are observed promptly.
	BlockSlice time.Duration
	// ReadCount caps the records returned by one read.
	ReadCount int64
	// Breaker guards every command. Nil installs a default breaker.
	Breaker *resilience.CircuitBreaker
}

// RedisStore keeps each log in a Redis stream named stream:{feature}:{chat}.
type RedisStore struct {
	client     redis.UniversalClient
	ttl        time.Duration
	blockSlice time.Duration
	readCount  int64
	breaker    *resilience.CircuitBreaker
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.BlockSlice < time.Millisecond {
		cfg.BlockSlice = defaultBlockSlice
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = defaultReadCount
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("eventlog_redis", 5, 10*time.Second,
			resilience.WithFailureFilter(isBackendFailure))
	}
	return &RedisStore{
		client:     client,
		ttl:        cfg.TTL,
		blockSlice: cfg.BlockSlice,
		readCount:  cfg.ReadCount,
		breaker:    cfg.Breaker,
	}
}

// isBackendFailure excludes empty replies. Caller cancellation is filtered by
// the breaker from the context, since dial timeouts also match
// context.DeadlineExceeded.
func isBackendFailure(err error) bool {
	return !errors.Is(err, redis.Nil)
}

func (s *RedisStore) do(ctx context.Context, fn func(context.Context) error) error {
	err := s.breaker.ExecuteContext(ctx, fn)
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return err
	case ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%w: %w", ErrLogUnavailable, err)
	}
}

func (s *RedisStore) Append(ctx context.Context, key session.Key, entry session.Entry) error {
	data, err := entry.Encode()
	if err != nil {
		return err
	}
	err = s.do(ctx, func(ctx context.Context) error {
		return appendScript.Run(ctx, s.client, []string{key.StreamName()}, data, s.ttl.Milliseconds()).Err()
	})
	metrics.RecordLogAppend(BackendRedis, resultLabel(err))
	if err != nil {
		return fmt.Errorf("append %s: %w", key.StreamName(), err)
	}
	return nil
}

func (s *RedisStore) TailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error) {
	entries, next, err := s.tailRead(ctx, key, after, deadline)
	metrics.RecordLogRead(BackendRedis, resultLabel(err), len(entries))
	return entries, next, err
}

func (s *RedisStore) tailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error) {
	name := key.StreamName()
	first, from, err := parseRedisCursor(after)
	if err != nil {
		return nil, after, err
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, after, ErrReadTimeout
		}
		// BLOCK 0 waits forever; keep every slice strictly positive.
		block := min(remaining, s.blockSlice)
		if block < time.Millisecond {
			block = time.Millisecond
		}

		var streams []redis.XStream
		err := s.do(ctx, func(ctx context.Context) error {
			var err error
			streams, err = s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{name, from},
				Count:   s.readCount,
				Block:   block,
			}).Result()
			return err
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, after, fmt.Errorf("read %s: %w", name, err)
		}

		// A cursor belongs to the log generation that starts at its first
		// record. A log that expired and was recreated under the same key
		// has newer IDs, which XREAD would happily return.
		if first != "" {
			if err := s.checkGeneration(ctx, name, first); err != nil {
				return nil, after, err
			}
		}

		var out []session.Entry
		next := after
		for _, st := range streams {
			for _, msg := range st.Messages {
				e, err := decodeMessage(msg)
				if err != nil {
					return nil, after, fmt.Errorf("read %s: %w", name, err)
				}
				if first == "" {
					first = msg.ID
				}
				out = append(out, e)
				from = msg.ID
				next = formatRedisCursor(first, msg.ID)
			}
		}
		if len(out) > 0 {
			return out, next, nil
		}
	}
}

func (s *RedisStore) checkGeneration(ctx context.Context, name, first string) error {
	var msgs []redis.XMessage
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.client.XRangeN(ctx, name, "-", "+", 1).Result()
		return err
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%w: %s expired", ErrLogUnavailable, name)
	}
	if msgs[0].ID != first {
		return fmt.Errorf("%w: %s expired and was recreated", ErrLogUnavailable, name)
	}
	return nil
}

// Redis cursors are "<first record ID>,<last read ID>".
func formatRedisCursor(first, last string) Cursor {
	return Cursor(first + "," + last)
}

func parseRedisCursor(c Cursor) (first, last string, err error) {
	if c == Start {
		return "", "0-0", nil
	}
	first, last, ok := strings.Cut(string(c), ",")
	if !ok || first == "" || last == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	return first, last, nil
}

func (s *RedisStore) Exists(ctx context.Context, key session.Key) (bool, error) {
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.client.XLen(ctx, key.StreamName()).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key.StreamName(), err)
	}
	return n > 0, nil
}

func (s *RedisStore) Last(ctx context.Context, key session.Key) (session.Entry, bool, error) {
	var msgs []redis.XMessage
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.client.XRevRangeN(ctx, key.StreamName(), "+", "-", 1).Result()
		return err
	})
	if err != nil {
		return session.Entry{}, false, fmt.Errorf("last %s: %w", key.StreamName(), err)
	}
	if len(msgs) == 0 {
		return session.Entry{}, false, nil
	}
	e, err := decodeMessage(msgs[0])
	if err != nil {
		return session.Entry{}, false, fmt.Errorf("last %s: %w", key.StreamName(), err)
	}
	return e, true, nil
}

// Breaker exposes the circuit breaker guarding Redis calls.
func (s *RedisStore) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Ping reports whether Redis answers; used by readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// Close is a no-op; the client is shared with the task queue.
func (s *RedisStore) Close() error { return nil }

func decodeMessage(msg redis.XMessage) (session.Entry, error) {
	raw, ok := msg.Values[dataField]
	if !ok {
		return session.Entry{}, fmt.Errorf("record %s has no %q field", msg.ID, dataField)
	}
	data, ok := raw.(string)
	if !ok {
		return session.Entry{}, fmt.Errorf("record %s: %q is %T", msg.ID, dataField, raw)
	}
	return session.DecodeEntry(data)
}

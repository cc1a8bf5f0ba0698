// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/genstream/internal/metrics"
	"github.com/ManuGH/genstream/internal/resilience"
	"github.com/ManuGH/genstream/internal/session"
)

const deadRetention = 24 * time.Hour

// RedisQueue shares the queue across gateway and worker processes.
//
// Keys, with {name} the configured prefix:
//   - {name}:pending          list of task IDs, oldest first
//   - {name}:leased           zset of task IDs scored by lease expiry (ms)
//   - {name}:dead             list of dead-lettered task IDs
//   - {name}:task:{id}        hash with session, created_at, attempts, lease_owner, lease_expiry
//   - {name}:active:{session} idempotency guard holding the active task ID
type RedisQueue struct {
	client  redis.UniversalClient
	opts    options
	breaker *resilience.CircuitBreaker
}

// NewRedisQueue wraps an existing client. The caller owns the client.
func NewRedisQueue(client redis.UniversalClient, opts ...Option) *RedisQueue {
	return &RedisQueue{
		client: client,
		opts:   buildOptions(opts),
		breaker: resilience.NewCircuitBreaker("taskqueue_redis", 5, 10*time.Second,
			resilience.WithFailureFilter(isBackendFailure)),
	}
}

// isBackendFailure excludes empty replies; the breaker filters caller
// cancellation by context.
func isBackendFailure(err error) bool {
	return !errors.Is(err, redis.Nil)
}

func (q *RedisQueue) pendingKey() string        { return q.opts.name + ":pending" }
func (q *RedisQueue) leasedKey() string         { return q.opts.name + ":leased" }
func (q *RedisQueue) deadKey() string           { return q.opts.name + ":dead" }
func (q *RedisQueue) taskPrefix() string        { return q.opts.name + ":task:" }
func (q *RedisQueue) activePrefix() string      { return q.opts.name + ":active:" }
func (q *RedisQueue) taskKey(id string) string  { return q.taskPrefix() + id }
func (q *RedisQueue) activeKey(s string) string { return q.activePrefix() + s }

func (q *RedisQueue) run(ctx context.Context, s *redis.Script, keys []string, args ...any) (any, error) {
	var res any
	err := q.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.Run(ctx, q.client, keys, args...).Result()
		return err
	})
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return res, err
	case ctx.Err() != nil:
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) (Admission, error) {
	if task.ID == "" || task.IdempotencyKey == "" {
		return 0, fmt.Errorf("enqueue: task needs an ID and an idempotency key")
	}
	now := q.opts.now()
	res, err := q.run(ctx, enqueueScript,
		[]string{q.activeKey(task.IdempotencyKey), q.taskKey(task.ID), q.pendingKey()},
		task.ID, task.IdempotencyKey, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", task.IdempotencyKey, err)
	}
	a := DuplicateSuppressed
	if n, _ := res.(int64); n == 1 {
		a = Admitted
	}
	metrics.RecordAdmission(BackendRedis, a.String())
	return a, nil
}

func (q *RedisQueue) Lease(ctx context.Context, workerID string, d time.Duration) (Task, error) {
	if d <= 0 {
		d = DefaultLeaseDuration
	}
	if _, err := q.Reclaim(ctx); err != nil {
		return Task{}, err
	}

	expiry := q.opts.now().Add(d)
	res, err := q.run(ctx, leaseScript, []string{q.pendingKey(), q.leasedKey()},
		q.taskPrefix(), workerID, expiry.UnixMilli())
	if errors.Is(err, redis.Nil) {
		metrics.RecordLease(BackendRedis, "empty")
		return Task{}, ErrQueueEmpty
	}
	if err != nil {
		return Task{}, fmt.Errorf("lease: %w", err)
	}

	t, err := parseLease(res)
	if err != nil {
		return Task{}, fmt.Errorf("lease: %w", err)
	}
	t.LeaseOwner = workerID
	t.LeaseExpiry = time.UnixMilli(expiry.UnixMilli())
	metrics.RecordLease(BackendRedis, "leased")
	return t, nil
}

func parseLease(res any) (Task, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 4 {
		return Task{}, fmt.Errorf("unexpected lease reply %v", res)
	}
	id, _ := vals[0].(string)
	sess, _ := vals[1].(string)
	created, _ := vals[2].(string)
	attempts, _ := vals[3].(int64)

	key, err := session.ParseKey(sess)
	if err != nil {
		return Task{}, fmt.Errorf("task %s: %w", id, err)
	}
	ms, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("task %s: created_at %q: %w", id, created, err)
	}
	return Task{
		ID:             id,
		Key:            key,
		IdempotencyKey: sess,
		CreatedAt:      time.UnixMilli(ms),
		Attempt:        int(attempts),
	}, nil
}

func (q *RedisQueue) Extend(ctx context.Context, taskID, workerID string, d time.Duration) error {
	if d <= 0 {
		d = DefaultLeaseDuration
	}
	now := q.opts.now()
	res, err := q.run(ctx, extendScript, []string{q.leasedKey(), q.taskKey(taskID)},
		taskID, workerID, now.UnixMilli(), now.Add(d).UnixMilli())
	if err != nil {
		return fmt.Errorf("extend %s: %w", taskID, err)
	}
	return transitionResult("extend", taskID, res)
}

func (q *RedisQueue) Complete(ctx context.Context, taskID, workerID string) error {
	res, err := q.run(ctx, completeScript, []string{q.leasedKey(), q.taskKey(taskID)},
		taskID, workerID, q.activePrefix())
	if err != nil {
		return fmt.Errorf("complete %s: %w", taskID, err)
	}
	return transitionResult("complete", taskID, res)
}

func transitionResult(op, taskID string, res any) error {
	switch n, _ := res.(int64); n {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("%s %s: %w", op, taskID, ErrTaskNotFound)
	default:
		return fmt.Errorf("%s %s: %w", op, taskID, ErrLeaseExpired)
	}
}

func (q *RedisQueue) Reclaim(ctx context.Context) (ReclaimResult, error) {
	res, err := q.run(ctx, reclaimScript,
		[]string{q.leasedKey(), q.pendingKey(), q.deadKey()},
		q.taskPrefix(), q.opts.now().UnixMilli(), q.opts.maxAttempts, q.activePrefix(),
		int64(deadRetention/time.Second))
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("reclaim: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return ReclaimResult{}, fmt.Errorf("reclaim: unexpected reply %v", res)
	}
	requeued, _ := vals[0].(int64)
	dead, _ := vals[1].(int64)
	out := ReclaimResult{Requeued: int(requeued), DeadLettered: int(dead)}
	if out.Requeued+out.DeadLettered > 0 {
		metrics.RecordReclaim(BackendRedis, out.Requeued, out.DeadLettered)
	}
	return out, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var pending, leased, dead *redis.IntCmd
	err := q.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			pending = p.LLen(ctx, q.pendingKey())
			leased = p.ZCard(ctx, q.leasedKey())
			dead = p.LLen(ctx, q.deadKey())
			return nil
		})
		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrQueueUnavailable, err)
	}
	s := Stats{Pending: int(pending.Val()), Leased: int(leased.Val()), Dead: int(dead.Val())}
	metrics.SetQueueDepth(s.Pending, s.Leased, s.Dead)
	return s, nil
}

// Breaker exposes the circuit breaker guarding Redis calls.
func (q *RedisQueue) Breaker() *resilience.CircuitBreaker { return q.breaker }

// Ping reports whether Redis answers; used by readiness checks.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/genstream/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type queueFactory struct {
	name string
	open func(t *testing.T, opts ...Option) Queue
}

func factories() []queueFactory {
	return []queueFactory{
		{
			name: BackendMemory,
			open: func(t *testing.T, opts ...Option) Queue { return NewMemoryQueue(opts...) },
		},
		{
			name: BackendRedis,
			open: func(t *testing.T, opts ...Option) Queue {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = client.Close() })
				return NewRedisQueue(client, opts...)
			},
		},
	}
}

func TestQueue_DuplicateSuppressedWhileActive(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			q := f.open(t, WithClock(clock.Now))
			ctx := context.Background()
			key := session.MustKey("f1", "c1")

			a, err := q.Enqueue(ctx, NewTask(key))
			require.NoError(t, err)
			assert.Equal(t, Admitted, a)

			a, err = q.Enqueue(ctx, NewTask(key))
			require.NoError(t, err)
			assert.Equal(t, DuplicateSuppressed, a, "pending task must suppress duplicates")

			task, err := q.Lease(ctx, "w1", time.Minute)
			require.NoError(t, err)

			a, err = q.Enqueue(ctx, NewTask(key))
			require.NoError(t, err)
			assert.Equal(t, DuplicateSuppressed, a, "leased task must suppress duplicates")

			require.NoError(t, q.Complete(ctx, task.ID, "w1"))

			a, err = q.Enqueue(ctx, NewTask(key))
			require.NoError(t, err)
			assert.Equal(t, Admitted, a, "completion releases the key")
		})
	}
}

func TestQueue_ConcurrentEnqueueAdmitsOnce(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			q := f.open(t)
			key := session.MustKey("f1", "race")

			const callers = 32
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				admitted int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a, err := q.Enqueue(context.Background(), NewTask(key))
					assert.NoError(t, err)
					if a == Admitted {
						mu.Lock()
						admitted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, admitted)
			stats, err := q.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, Stats{Pending: 1}, stats)
		})
	}
}

func TestQueue_LeaseIsFIFO(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			q := f.open(t, WithClock(clock.Now))
			ctx := context.Background()

			first := NewTask(session.MustKey("f1", "a"))
			second := NewTask(session.MustKey("f1", "b"))
			_, err := q.Enqueue(ctx, first)
			require.NoError(t, err)
			clock.Advance(time.Millisecond)
			_, err = q.Enqueue(ctx, second)
			require.NoError(t, err)

			got, err := q.Lease(ctx, "w1", 30*time.Second)
			require.NoError(t, err)
			assert.Equal(t, first.ID, got.ID)
			assert.Equal(t, first.Key, got.Key)
			assert.Equal(t, "f1:a", got.IdempotencyKey)
			assert.Equal(t, 1, got.Attempt)
			assert.Equal(t, "w1", got.LeaseOwner)
			assert.True(t, got.LeaseExpiry.Equal(clock.Now().Add(30*time.Second)))
			assert.False(t, got.CreatedAt.IsZero())

			got, err = q.Lease(ctx, "w2", 30*time.Second)
			require.NoError(t, err)
			assert.Equal(t, second.ID, got.ID)

			_, err = q.Lease(ctx, "w3", 30*time.Second)
			assert.ErrorIs(t, err, ErrQueueEmpty)
		})
	}
}

func TestQueue_Extend(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			q := f.open(t, WithClock(clock.Now))
			ctx := context.Background()

			_, err := q.Enqueue(ctx, NewTask(session.MustKey("f1", "ext")))
			require.NoError(t, err)
			task, err := q.Lease(ctx, "w1", 10*time.Second)
			require.NoError(t, err)

			clock.Advance(8 * time.Second)
			require.NoError(t, q.Extend(ctx, task.ID, "w1", 10*time.Second))

			// Still held thanks to the heartbeat.
			clock.Advance(8 * time.Second)
			require.NoError(t, q.Extend(ctx, task.ID, "w1", 10*time.Second))

			assert.ErrorIs(t, q.Extend(ctx, task.ID, "intruder", 10*time.Second), ErrLeaseExpired)
			assert.ErrorIs(t, q.Extend(ctx, "missing", "w1", 10*time.Second), ErrTaskNotFound)

			clock.Advance(11 * time.Second)
			assert.ErrorIs(t, q.Extend(ctx, task.ID, "w1", 10*time.Second), ErrLeaseExpired)
		})
	}
}

func TestQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			q := f.open(t, WithClock(clock.Now))
			ctx := context.Background()

			_, err := q.Enqueue(ctx, NewTask(session.MustKey("f1", "crash")))
			require.NoError(t, err)
			first, err := q.Lease(ctx, "w1", 5*time.Second)
			require.NoError(t, err)

			_, err = q.Lease(ctx, "w2", 5*time.Second)
			require.ErrorIs(t, err, ErrQueueEmpty)

			clock.Advance(6 * time.Second)
			second, err := q.Lease(ctx, "w2", 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, 2, second.Attempt)
			assert.Equal(t, "w2", second.LeaseOwner)

			assert.ErrorIs(t, q.Complete(ctx, first.ID, "w1"), ErrLeaseExpired)
			require.NoError(t, q.Complete(ctx, second.ID, "w2"))
			assert.ErrorIs(t, q.Complete(ctx, second.ID, "w2"), ErrTaskNotFound)
		})
	}
}

func TestQueue_DeadLetterAfterMaxAttempts(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			q := f.open(t, WithClock(clock.Now), WithMaxAttempts(2))
			ctx := context.Background()
			key := session.MustKey("f1", "poison")

			_, err := q.Enqueue(ctx, NewTask(key))
			require.NoError(t, err)

			for attempt := 1; attempt <= 2; attempt++ {
				task, err := q.Lease(ctx, "w1", time.Second)
				require.NoError(t, err)
				assert.Equal(t, attempt, task.Attempt)
				clock.Advance(2 * time.Second)
			}

			res, err := q.Reclaim(ctx)
			require.NoError(t, err)
			assert.Equal(t, ReclaimResult{DeadLettered: 1}, res)

			_, err = q.Lease(ctx, "w1", time.Second)
			assert.ErrorIs(t, err, ErrQueueEmpty)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Dead: 1}, stats)

			a, err := q.Enqueue(ctx, NewTask(key))
			require.NoError(t, err)
			assert.Equal(t, Admitted, a, "dead-lettering releases the key")
		})
	}
}

func TestQueue_ReclaimRequeuesBeforeNewWork(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			q := f.open(t, WithClock(clock.Now))
			ctx := context.Background()

			old := NewTask(session.MustKey("f1", "old"))
			_, err := q.Enqueue(ctx, old)
			require.NoError(t, err)
			_, err = q.Lease(ctx, "w1", time.Second)
			require.NoError(t, err)

			fresh := NewTask(session.MustKey("f1", "fresh"))
			_, err = q.Enqueue(ctx, fresh)
			require.NoError(t, err)

			clock.Advance(2 * time.Second)
			res, err := q.Reclaim(ctx)
			require.NoError(t, err)
			assert.Equal(t, ReclaimResult{Requeued: 1}, res)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Pending: 2}, stats)

			got, err := q.Lease(ctx, "w2", time.Second)
			require.NoError(t, err)
			assert.Equal(t, old.ID, got.ID)
		})
	}
}

func TestQueue_EnqueueRejectsIncompleteTask(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			q := f.open(t)
			_, err := q.Enqueue(context.Background(), Task{})
			assert.Error(t, err)
		})
	}
}

func TestAdmissionString(t *testing.T) {
	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "duplicate_suppressed", DuplicateSuppressed.String())
	assert.Equal(t, "unknown", Admission(0).String())
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/genstream/internal/eventlog"
	"github.com/ManuGH/genstream/internal/session"
	"github.com/ManuGH/genstream/internal/taskqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testOwner = "w-test"

func newStore(t *testing.T) *eventlog.MemoryStore {
	t.Helper()
	s := eventlog.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func leaseOne(t *testing.T, q taskqueue.Queue, key session.Key, d time.Duration) taskqueue.Task {
	t.Helper()
	a, err := q.Enqueue(context.Background(), taskqueue.NewTask(key))
	require.NoError(t, err)
	require.Equal(t, taskqueue.Admitted, a)
	task, err := q.Lease(context.Background(), testOwner, d)
	require.NoError(t, err)
	return task
}

func readAll(t *testing.T, s eventlog.Store, key session.Key) []session.Entry {
	t.Helper()
	entries, _, err := s.TailRead(context.Background(), key, eventlog.Start, time.Now().Add(50*time.Millisecond))
	if err != nil {
		require.ErrorIs(t, err, eventlog.ErrReadTimeout)
		return nil
	}
	return entries
}

func eventIDs(entries []session.Entry) []uint64 {
	var ids []uint64
	for _, e := range entries {
		if !e.Done {
			ids = append(ids, e.Event.ID)
		}
	}
	return ids
}

func seq(from, to uint64) []uint64 {
	var out []uint64
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestWorker_ProducesOrderedEventsThenMarker(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	key := session.MustKey("f1", "c1")
	w := New(store, queue, Config{ProducerID: "host-a", FeatureID: "f1", EventCount: 20})

	task := leaseOne(t, queue, key, time.Minute)
	require.NoError(t, w.Run(context.Background(), task))

	entries := readAll(t, store, key)
	require.Len(t, entries, 21)
	if diff := cmp.Diff(seq(0, 20), eventIDs(entries)); diff != "" {
		t.Fatalf("event ids (-want +got):\n%s", diff)
	}
	assert.True(t, entries[20].Done)

	ev := entries[3].Event
	assert.Equal(t, "Message 3 from feature f1, chat c1", ev.Message)
	assert.Equal(t, "host-a", ev.ContainerID)
	assert.Equal(t, "f1", ev.ContainerFeatureID)
	assert.Equal(t, DefaultEngineName, ev.Worker)

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, taskqueue.Stats{}, stats)
	a, err := queue.Enqueue(context.Background(), taskqueue.NewTask(key))
	require.NoError(t, err)
	assert.Equal(t, taskqueue.Admitted, a, "completion must release the session")
}

func TestWorker_SpacesEvents(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	w := New(store, queue, Config{EventCount: 3, EventInterval: 20 * time.Millisecond})

	start := time.Now()
	require.NoError(t, w.Run(context.Background(), leaseOne(t, queue, session.MustKey("f1", "slow"), time.Minute)))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWorker_ResumesFromLogTail(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	key := session.MustKey("f1", "resume")
	gen := MessageGenerator{ProducerID: "crashed-host"}
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, store.Append(context.Background(), key, session.EventEntry(gen.Generate(key, i, time.Now()))))
	}

	w := New(store, queue, Config{ProducerID: "host-b", EventCount: 20})
	require.NoError(t, w.Run(context.Background(), leaseOne(t, queue, key, time.Minute)))

	entries := readAll(t, store, key)
	if diff := cmp.Diff(seq(0, 20), eventIDs(entries)); diff != "" {
		t.Fatalf("event ids (-want +got):\n%s", diff)
	}
	assert.Equal(t, "crashed-host", entries[4].Event.ContainerID)
	assert.Equal(t, "host-b", entries[5].Event.ContainerID)
	assert.True(t, entries[len(entries)-1].Done)
}

func TestWorker_CompletedLogIsNotRegenerated(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	key := session.MustKey("f1", "done")
	w := New(store, queue, Config{EventCount: 3})

	require.NoError(t, w.Run(context.Background(), leaseOne(t, queue, key, time.Minute)))
	before := readAll(t, store, key)

	require.NoError(t, w.Run(context.Background(), leaseOne(t, queue, key, time.Minute)))
	assert.Equal(t, before, readAll(t, store, key))

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Leased)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWorker_StopsWhenLeaseIsLost(t *testing.T) {
	store := newStore(t)
	clock := &manualClock{now: time.Unix(1_000_000, 0)}
	queue := taskqueue.NewMemoryQueue(taskqueue.WithClock(clock.Now))
	key := session.MustKey("f1", "lost")
	w := New(store, queue, Config{EventCount: 20})

	task := leaseOne(t, queue, key, time.Second)
	clock.Advance(2 * time.Second)

	err := w.Run(context.Background(), task)
	require.ErrorIs(t, err, taskqueue.ErrLeaseExpired)

	entries := readAll(t, store, key)
	assert.Equal(t, []uint64{0}, eventIDs(entries), "production stops at the first failed heartbeat")
	for _, e := range entries {
		assert.False(t, e.Done)
	}
}

func TestWorker_PanicIsReportedAsFailure(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	w := New(store, queue, Config{EventCount: 2}, WithGenerator(GeneratorFunc(
		func(session.Key, uint64, time.Time) session.Event { panic("generator exploded") },
	)))

	err := w.Run(context.Background(), leaseOne(t, queue, session.MustKey("f1", "panic"), time.Minute))
	require.ErrorIs(t, err, ErrWorkerFailure)

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Leased, "task is left for lease expiry")
}

func TestWorker_CancellationStopsProduction(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	w := New(store, queue, Config{EventCount: 20, EventInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	key := session.MustKey("f1", "cancel")
	err := w.Run(ctx, leaseOne(t, queue, key, time.Minute))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ids := eventIDs(readAll(t, store, key))
	assert.NotEmpty(t, ids)
	assert.Less(t, len(ids), 20)
}

func TestWorker_UsesInjectedClock(t *testing.T) {
	store := newStore(t)
	queue := taskqueue.NewMemoryQueue()
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	w := New(store, queue, Config{EventCount: 1}, WithClock(func() time.Time { return fixed }))

	key := session.MustKey("f1", "clock")
	require.NoError(t, w.Run(context.Background(), leaseOne(t, queue, key, time.Minute)))
	entries := readAll(t, store, key)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Event.Timestamp.Equal(fixed))
}

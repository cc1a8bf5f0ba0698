// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/genstream/internal/metrics"
)

// MemoryQueue is a process-local Queue for tests and single-process runs.
type MemoryQueue struct {
	mu      sync.Mutex
	opts    options
	tasks   map[string]*Task  // pending and leased, by ID
	pending []string          // FIFO of task IDs
	active  map[string]string // idempotency key -> task ID
	dead    []Task
}

func NewMemoryQueue(opts ...Option) *MemoryQueue {
	return &MemoryQueue{
		opts:   buildOptions(opts),
		tasks:  make(map[string]*Task),
		active: make(map[string]string),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) (Admission, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if task.ID == "" || task.IdempotencyKey == "" {
		return 0, fmt.Errorf("enqueue: task needs an ID and an idempotency key")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.active[task.IdempotencyKey]; busy {
		metrics.RecordAdmission(BackendMemory, DuplicateSuppressed.String())
		return DuplicateSuppressed, nil
	}
	task.CreatedAt = q.opts.now()
	task.Attempt = 0
	task.LeaseOwner = ""
	task.LeaseExpiry = time.Time{}
	q.tasks[task.ID] = &task
	q.active[task.IdempotencyKey] = task.ID
	q.pending = append(q.pending, task.ID)
	metrics.RecordAdmission(BackendMemory, Admitted.String())
	return Admitted, nil
}

func (q *MemoryQueue) Lease(ctx context.Context, workerID string, d time.Duration) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	if d <= 0 {
		d = DefaultLeaseDuration
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.reclaimLocked()

	if len(q.pending) == 0 {
		metrics.RecordLease(BackendMemory, "empty")
		return Task{}, ErrQueueEmpty
	}
	id := q.pending[0]
	q.pending = q.pending[1:]

	t := q.tasks[id]
	t.Attempt++
	t.LeaseOwner = workerID
	t.LeaseExpiry = q.opts.now().Add(d)
	metrics.RecordLease(BackendMemory, "leased")
	return *t, nil
}

func (q *MemoryQueue) Extend(ctx context.Context, taskID, workerID string, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		d = DefaultLeaseDuration
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("extend %s: %w", taskID, ErrTaskNotFound)
	}
	now := q.opts.now()
	if t.LeaseOwner != workerID || !now.Before(t.LeaseExpiry) {
		return fmt.Errorf("extend %s: %w", taskID, ErrLeaseExpired)
	}
	t.LeaseExpiry = now.Add(d)
	return nil
}

// Complete accepts a lease that has lapsed but was not yet reclaimed; the
// holder finished its work.
func (q *MemoryQueue) Complete(ctx context.Context, taskID, workerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("complete %s: %w", taskID, ErrTaskNotFound)
	}
	if t.LeaseOwner != workerID {
		return fmt.Errorf("complete %s: %w", taskID, ErrLeaseExpired)
	}
	delete(q.tasks, taskID)
	if q.active[t.IdempotencyKey] == taskID {
		delete(q.active, t.IdempotencyKey)
	}
	return nil
}

func (q *MemoryQueue) Reclaim(ctx context.Context) (ReclaimResult, error) {
	if err := ctx.Err(); err != nil {
		return ReclaimResult{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reclaimLocked(), nil
}

func (q *MemoryQueue) reclaimLocked() ReclaimResult {
	var (
		res      ReclaimResult
		now      = q.opts.now()
		requeued []string
	)
	for id, t := range q.tasks {
		if t.LeaseOwner == "" || now.Before(t.LeaseExpiry) {
			continue
		}
		t.LeaseOwner = ""
		t.LeaseExpiry = time.Time{}
		if q.opts.maxAttempts > 0 && t.Attempt >= q.opts.maxAttempts {
			delete(q.tasks, id)
			delete(q.active, t.IdempotencyKey)
			q.dead = append(q.dead, *t)
			res.DeadLettered++
			continue
		}
		requeued = append(requeued, id)
		res.Requeued++
	}
	if len(requeued) > 0 {
		// Reclaimed tasks are the oldest eligible work.
		sort.Slice(requeued, func(i, j int) bool {
			return q.tasks[requeued[i]].CreatedAt.Before(q.tasks[requeued[j]].CreatedAt)
		})
		q.pending = append(requeued, q.pending...)
	}
	if res.Requeued+res.DeadLettered > 0 {
		metrics.RecordReclaim(BackendMemory, res.Requeued, res.DeadLettered)
	}
	return res
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Pending: len(q.pending),
		Leased:  len(q.tasks) - len(q.pending),
		Dead:    len(q.dead),
	}
	metrics.SetQueueDepth(s.Pending, s.Leased, s.Dead)
	return s, nil
}

// DeadLetters returns a copy of the dead-lettered tasks.
func (q *MemoryQueue) DeadLetters() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.dead))
	copy(out, q.dead)
	return out
}

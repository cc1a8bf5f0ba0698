// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ManuGH/genstream/internal/autoscale"
	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/metrics"
	"github.com/ManuGH/genstream/internal/taskqueue"
)

// ErrPoolNotRunning is returned by Resize before Run or after it returned.
var ErrPoolNotRunning = errors.New("worker pool not running")

// Defaults for PoolConfig.
const (
	DefaultMaxJobs         = 10
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultReclaimInterval = 5 * time.Second
)

// PoolConfig sizes the pool.
type PoolConfig struct {
	Replicas int
	// MaxJobs bounds concurrent jobs per replica.
	MaxJobs int
	// PollInterval paces leasing while the queue is empty.
	PollInterval time.Duration
	// ReclaimInterval is the period of the expired-lease sweep.
	ReclaimInterval time.Duration
	LeaseDuration   time.Duration
	// MemoryLimit is the heap budget used for the memory utilization sample.
	// Zero falls back to the runtime soft limit, if one is set.
	MemoryLimit uint64
}

func (c *PoolConfig) setDefaults() {
	if c.Replicas < 0 {
		c.Replicas = 0
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = DefaultMaxJobs
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = DefaultReclaimInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = taskqueue.DefaultLeaseDuration
	}
}

// Pool runs worker replicas against a queue. Each replica leases only while
// it has a free job slot. Removing a replica stops its leasing; its in-flight
// jobs run to completion.
type Pool struct {
	worker *Worker
	queue  taskqueue.Queue
	cfg    PoolConfig
	logger zerolog.Logger

	mu       sync.Mutex
	running  bool
	jobsCtx  context.Context
	replicas []*replica
	loops    sync.WaitGroup
	jobs     sync.WaitGroup
	inflight atomic.Int64
}

type replica struct {
	id     string
	cancel context.CancelFunc
}

// NewPool creates a stopped pool.
func NewPool(w *Worker, queue taskqueue.Queue, cfg PoolConfig) *Pool {
	cfg.setDefaults()
	return &Pool{
		worker: w,
		queue:  queue,
		cfg:    cfg,
		logger: gslog.WithComponent("worker_pool"),
	}
}

// Run starts the configured replicas and the reclaim sweep, and blocks until
// ctx is done. Jobs run on ctx, so cancelling it also interrupts them; their
// tasks are redelivered after lease expiry.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already running")
	}
	p.running = true
	p.jobsCtx = ctx
	for i := 0; i < p.cfg.Replicas; i++ {
		p.startReplicaLocked(ctx)
	}
	n := len(p.replicas)
	p.mu.Unlock()
	metrics.PoolReplicas.Set(float64(n))

	p.logger.Info().
		Str(gslog.FieldEvent, "pool.started").
		Int(gslog.FieldReplicas, n).
		Int("max_jobs", p.cfg.MaxJobs).
		Msg("worker pool started")

	p.loops.Add(1)
	go p.reclaimLoop(ctx)

	<-ctx.Done()

	p.mu.Lock()
	p.running = false
	for _, r := range p.replicas {
		r.cancel()
	}
	p.replicas = nil
	p.mu.Unlock()

	p.loops.Wait()
	p.jobs.Wait()
	p.logger.Info().Str(gslog.FieldEvent, "pool.stopped").Msg("worker pool stopped")
	return nil
}

// Caller must hold p.mu.
func (p *Pool) startReplicaLocked(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r := &replica{id: newWorkerID(), cancel: cancel}
	p.replicas = append(p.replicas, r)
	p.loops.Add(1)
	go p.runReplica(ctx, r)
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

func (p *Pool) runReplica(ctx context.Context, r *replica) {
	defer p.loops.Done()
	logger := p.logger.With().Str(gslog.FieldWorkerID, r.id).Logger()
	slots := semaphore.NewWeighted(int64(p.cfg.MaxJobs))
	poll := rate.NewLimiter(rate.Every(p.cfg.PollInterval), 1)

	logger.Debug().Str(gslog.FieldEvent, "replica.started").Msg("replica started")
	for {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		task, err := p.queue.Lease(ctx, r.id, p.cfg.LeaseDuration)
		if err != nil {
			slots.Release(1)
			if ctx.Err() != nil {
				break
			}
			if !errors.Is(err, taskqueue.ErrQueueEmpty) {
				logger.Warn().Err(err).Str(gslog.FieldEvent, "replica.lease_failed").Msg("lease failed")
			}
			if err := poll.Wait(ctx); err != nil {
				break
			}
			continue
		}

		p.jobs.Add(1)
		p.inflight.Add(1)
		metrics.WorkerInflightJobs.Inc()
		go func() {
			defer func() {
				metrics.WorkerInflightJobs.Dec()
				p.inflight.Add(-1)
				slots.Release(1)
				p.jobs.Done()
			}()
			// Errors are logged and counted by Run; the lease handles retry.
			_ = p.worker.Run(p.jobsCtx, task)
		}()
	}
	logger.Debug().Str(gslog.FieldEvent, "replica.stopped").Msg("replica stopped leasing")
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	defer p.loops.Done()
	t := time.NewTicker(p.cfg.ReclaimInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := p.queue.Reclaim(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn().Err(err).Str(gslog.FieldEvent, "pool.reclaim_failed").Msg("reclaim failed")
				}
				continue
			}
			if res.Requeued+res.DeadLettered > 0 {
				p.logger.Info().
					Str(gslog.FieldEvent, "pool.reclaimed").
					Int("requeued", res.Requeued).
					Int("dead_lettered", res.DeadLettered).
					Msg("expired leases reclaimed")
			}
			// Refreshes the queue depth gauges.
			_, _ = p.queue.Stats(ctx)
		}
	}
}

// Resize sets the replica count. It implements autoscale.Scaler.
func (p *Pool) Resize(_ context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("replica count must not be negative, got %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrPoolNotRunning
	}
	old := len(p.replicas)
	for len(p.replicas) < n {
		p.startReplicaLocked(p.jobsCtx)
	}
	for len(p.replicas) > n {
		last := p.replicas[len(p.replicas)-1]
		p.replicas = p.replicas[:len(p.replicas)-1]
		last.cancel()
	}
	metrics.PoolReplicas.Set(float64(n))
	if old != n {
		p.logger.Info().
			Str(gslog.FieldEvent, "pool.resized").
			Int(gslog.FieldOldReplicas, old).
			Int(gslog.FieldNewReplicas, n).
			Msg("worker pool resized")
	}
	return nil
}

// Replicas returns the current replica count.
func (p *Pool) Replicas() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replicas)
}

// Inflight returns the number of executing jobs across all replicas.
func (p *Pool) Inflight() int { return int(p.inflight.Load()) }

// Sample reports slot occupancy as CPU utilization and heap use against the
// memory budget. It implements autoscale.MetricsSource.
func (p *Pool) Sample(_ context.Context) (autoscale.Sample, error) {
	p.mu.Lock()
	running, replicas := p.running, len(p.replicas)
	p.mu.Unlock()
	if !running {
		return autoscale.Sample{}, autoscale.ErrMetricsUnavailable
	}

	var cpu float64
	inflight := float64(p.inflight.Load())
	switch capacity := float64(replicas * p.cfg.MaxJobs); {
	case capacity > 0:
		cpu = min(inflight/capacity, 1)
	case inflight > 0:
		cpu = 1
	}
	return autoscale.Sample{CPU: cpu, Memory: p.memoryUtilization()}, nil
}

func (p *Pool) memoryUtilization() float64 {
	limit := p.cfg.MemoryLimit
	if limit == 0 {
		// A negative input reads GOMEMLIMIT without changing it.
		if soft := debug.SetMemoryLimit(-1); soft > 0 && soft < math.MaxInt64 {
			limit = uint64(soft)
		}
	}
	if limit == 0 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return min(float64(ms.HeapAlloc)/float64(limit), 1)
}

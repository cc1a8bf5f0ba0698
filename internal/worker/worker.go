// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker produces session event logs from leased tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/genstream/internal/eventlog"
	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/metrics"
	"github.com/ManuGH/genstream/internal/session"
	"github.com/ManuGH/genstream/internal/taskqueue"
	"github.com/ManuGH/genstream/internal/telemetry"
)

// ErrWorkerFailure reports a production fault (a panic) inside a job. The
// task is left to lease expiry.
var ErrWorkerFailure = errors.New("worker failure")

// Defaults for Config.
const (
	DefaultEventCount    = 20
	DefaultEventInterval = time.Second
	DefaultEngineName    = "genstream"
)

// Job results used for metrics and span outcomes.
const (
	resultCompleted       = "completed"
	resultAlreadyComplete = "already_complete"
	resultLeaseLost       = "lease_lost"
	resultFailed          = "failed"
	resultCanceled        = "canceled"
)

// Config controls event production.
type Config struct {
	ProducerID    string
	FeatureID     string
	EventCount    int
	EventInterval time.Duration
	// LeaseDuration is requested on every heartbeat.
	LeaseDuration time.Duration
}

func (c *Config) setDefaults() {
	if c.ProducerID == "" {
		c.ProducerID = "unknown"
	}
	if c.EventCount <= 0 {
		c.EventCount = DefaultEventCount
	}
	if c.EventInterval < 0 {
		c.EventInterval = 0
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = taskqueue.DefaultLeaseDuration
	}
}

// Worker runs one task at a time; a Pool runs many concurrently.
type Worker struct {
	store  eventlog.Store
	queue  taskqueue.Queue
	cfg    Config
	gen    Generator
	now    func() time.Time
	logger zerolog.Logger
	tracer trace.Tracer
}

// Option configures a Worker.
type Option func(*Worker)

// WithGenerator replaces the message generator.
func WithGenerator(g Generator) Option {
	return func(w *Worker) { w.gen = g }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New builds a Worker that writes to store and settles tasks on queue.
func New(store eventlog.Store, queue taskqueue.Queue, cfg Config, opts ...Option) *Worker {
	cfg.setDefaults()
	w := &Worker{
		store:  store,
		queue:  queue,
		cfg:    cfg,
		now:    time.Now,
		logger: gslog.WithComponent("worker"),
		tracer: telemetry.Tracer("genstream/worker"),
	}
	w.gen = MessageGenerator{ProducerID: cfg.ProducerID, FeatureID: cfg.FeatureID, Worker: DefaultEngineName}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run produces the events of task into its session log, appends the
// completion marker and completes the task. A re-delivered task resumes after
// the last logged event; a log that already ends in the marker is completed
// without new output. Run stops as soon as the lease is lost.
func (w *Worker) Run(ctx context.Context, task taskqueue.Task) (err error) {
	start := time.Now()
	logger := w.logger.With().
		Str(gslog.FieldTaskID, task.ID).
		Str(gslog.FieldFeatureID, task.Key.FeatureID()).
		Str(gslog.FieldChatID, task.Key.ChatID()).
		Str(gslog.FieldWorkerID, task.LeaseOwner).
		Int(gslog.FieldAttempt, task.Attempt).
		Logger()

	ctx, span := w.tracer.Start(ctx, "worker.run",
		trace.WithAttributes(telemetry.SessionAttributes(task.Key)...),
		trace.WithAttributes(telemetry.TaskAttributes(task.ID, task.LeaseOwner, task.Attempt)...),
	)

	result := resultFailed
	defer func() {
		if r := recover(); r != nil {
			result = resultFailed
			err = fmt.Errorf("%w: task %s: panic: %v", ErrWorkerFailure, task.ID, r)
			logger.Error().Str(gslog.FieldEvent, "worker.panic").Interface("panic", r).Msg("recovered panic in job")
		}
		metrics.RecordJob(result, time.Since(start))
		telemetry.EndSpan(span, result, err)
	}()

	var produced int
	result, produced, err = w.produce(ctx, task)
	span.SetAttributes(attribute.Int(telemetry.EventCountKey, produced))

	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.Str(gslog.FieldEvent, "worker.job_finished").
		Str("result", result).
		Int("produced", produced).
		Dur("duration", time.Since(start)).
		Msg("job finished")
	return err
}

func (w *Worker) produce(ctx context.Context, task taskqueue.Task) (string, int, error) {
	last, ok, err := w.store.Last(ctx, task.Key)
	if err != nil {
		return classify(ctx, err), 0, fmt.Errorf("inspect log %s: %w", task.Key.StreamName(), err)
	}

	var next uint64
	if ok {
		if last.Done {
			if err := w.queue.Complete(ctx, task.ID, task.LeaseOwner); err != nil {
				return classify(ctx, err), 0, fmt.Errorf("complete %s: %w", task.ID, err)
			}
			return resultAlreadyComplete, 0, nil
		}
		next = last.Event.ID + 1
	}

	produced := 0
	for id := next; id < uint64(w.cfg.EventCount); id++ {
		if id > next {
			if err := sleep(ctx, w.cfg.EventInterval); err != nil {
				return resultCanceled, produced, err
			}
		}

		ev := w.gen.Generate(task.Key, id, w.now())
		if err := w.store.Append(ctx, task.Key, session.EventEntry(ev)); err != nil {
			return classify(ctx, err), produced, fmt.Errorf("append event %d: %w", id, err)
		}
		produced++
		metrics.WorkerEventsProduced.Inc()

		if err := w.queue.Extend(ctx, task.ID, task.LeaseOwner, w.cfg.LeaseDuration); err != nil {
			return classify(ctx, err), produced, fmt.Errorf("renew lease after event %d: %w", id, err)
		}
	}

	if err := w.store.Append(ctx, task.Key, session.Marker()); err != nil {
		return classify(ctx, err), produced, fmt.Errorf("append marker: %w", err)
	}
	if err := w.queue.Complete(ctx, task.ID, task.LeaseOwner); err != nil {
		return classify(ctx, err), produced, fmt.Errorf("complete %s: %w", task.ID, err)
	}
	return resultCompleted, produced, nil
}

func classify(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, taskqueue.ErrLeaseExpired), errors.Is(err, taskqueue.ErrTaskNotFound):
		return resultLeaseLost
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return resultCanceled
	default:
		return resultFailed
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

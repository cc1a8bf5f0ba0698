// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gateway turns a stream request into a live, ordered sequence of
// events: it admits a generation task when the session has no log yet and
// relays the log as it grows.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
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

// ErrSequenceGap is returned when the log skips a sequence id.
var ErrSequenceGap = errors.New("event sequence gap")

// DefaultReadTimeout bounds each wait for the next log entry.
const DefaultReadTimeout = 30 * time.Second

// Config tunes the gateway.
type Config struct {
	ReadTimeout time.Duration
}

// Gateway is safe for concurrent use; every Stream is owned by one caller.
type Gateway struct {
	store  eventlog.Store
	queue  taskqueue.Queue
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer
}

// New builds a gateway over the shared log store and task queue.
func New(store eventlog.Store, queue taskqueue.Queue, cfg Config) *Gateway {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Gateway{
		store:  store,
		queue:  queue,
		cfg:    cfg,
		logger: gslog.WithComponent("gateway"),
		tracer: telemetry.Tracer("genstream/gateway"),
	}
}

// RequestStream admits a task for key unless its log already has entries and
// returns a Stream reading the log from the start. Reads are bound to ctx;
// cancelling it ends the stream but never the task.
func (g *Gateway) RequestStream(ctx context.Context, key session.Key) (*Stream, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("request stream: %w", session.ErrInvalidKey)
	}
	ctx, span := g.tracer.Start(ctx, "gateway.stream", trace.WithAttributes(telemetry.SessionAttributes(key)...))
	logger := gslog.WithContext(ctx, g.logger).With().
		Str(gslog.FieldFeatureID, key.FeatureID()).
		Str(gslog.FieldChatID, key.ChatID()).
		Logger()

	exists, err := g.store.Exists(ctx, key)
	if err != nil {
		err = fmt.Errorf("check log %s: %w", key.StreamName(), err)
		metrics.RecordStreamEnd(outcome(err))
		telemetry.EndSpan(span, outcome(err), err)
		return nil, err
	}

	var admission taskqueue.Admission
	if !exists {
		admission, err = g.queue.Enqueue(ctx, taskqueue.NewTask(key))
		if err != nil {
			err = fmt.Errorf("admit %s: %w", key, err)
			metrics.RecordStreamEnd(outcome(err))
			telemetry.EndSpan(span, outcome(err), err)
			return nil, err
		}
		span.SetAttributes(attribute.String(telemetry.AdmissionKey, admission.String()))
		logger.Debug().Str(gslog.FieldEvent, "gateway.admission").Str("admission", admission.String()).Msg("task admission")
	}

	metrics.StreamsActive.Inc()
	return &Stream{
		g:         g,
		ctx:       ctx,
		key:       key,
		span:      span,
		logger:    logger,
		admission: admission,
		started:   time.Now(),
	}, nil
}

// Relay streams every event of key to emit until the completion marker.
// It returns nil after the marker and the terminal error otherwise.
func (g *Gateway) Relay(ctx context.Context, key session.Key, emit func(session.Event) error) error {
	s, err := g.RequestStream(ctx, key)
	if err != nil {
		return err
	}
	defer s.Close()
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return "done"
	case errors.Is(err, eventlog.ErrReadTimeout):
		return "timeout"
	case errors.Is(err, eventlog.ErrLogUnavailable), errors.Is(err, taskqueue.ErrQueueUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

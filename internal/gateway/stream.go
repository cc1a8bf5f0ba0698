// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import (
	"context"
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

// Stream is one caller's view of a session log. It is not safe for
// concurrent use.
type Stream struct {
	g         *Gateway
	ctx       context.Context
	key       session.Key
	span      trace.Span
	logger    zerolog.Logger
	admission taskqueue.Admission
	started   time.Time

	cursor    eventlog.Cursor
	buf       []session.Entry
	next      uint64
	delivered int
	err       error
}

// Key returns the session being relayed.
func (s *Stream) Key() session.Key { return s.key }

// Admission reports the admission outcome. ok is false when the log already
// existed and admission was skipped.
func (s *Stream) Admission() (a taskqueue.Admission, ok bool) {
	return s.admission, s.admission != 0
}

// Next returns the next event in sequence order. It returns io.EOF after the
// completion marker, eventlog.ErrReadTimeout when a wait exceeds the read
// timeout, ErrSequenceGap when an id is skipped, or the context error after
// cancellation. Once Next fails it keeps returning the same error.
func (s *Stream) Next() (session.Event, error) {
	if s.err != nil {
		return session.Event{}, s.err
	}
	if err := s.ctx.Err(); err != nil {
		return session.Event{}, s.finish(err)
	}
	for {
		for len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]

			if e.Done {
				return session.Event{}, s.finish(io.EOF)
			}
			switch id := e.Event.ID; {
			case id < s.next:
				// Replayed output from a redelivered task.
				continue
			case id > s.next:
				return session.Event{}, s.finish(fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, s.next, id))
			}

			if s.delivered == 0 {
				metrics.ObserveTimeToFirstEvent(time.Since(s.started))
			}
			s.next++
			s.delivered++
			return e.Event, nil
		}

		entries, cursor, err := s.g.store.TailRead(s.ctx, s.key, s.cursor, time.Now().Add(s.g.cfg.ReadTimeout))
		if err != nil {
			return session.Event{}, s.finish(err)
		}
		s.cursor = cursor
		s.buf = entries
	}
}

// Close releases the stream. It is safe to call after Next failed and more
// than once.
func (s *Stream) Close() {
	if s.err == nil {
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.finish(err)
	}
}

func (s *Stream) finish(err error) error {
	s.err = err
	result := outcome(err)

	metrics.StreamsActive.Dec()
	metrics.RecordStreamEnd(result)
	s.span.SetAttributes(attribute.Int(telemetry.EventCountKey, s.delivered))
	var spanErr error
	if result != "done" {
		spanErr = err
	}
	telemetry.EndSpan(s.span, result, spanErr)

	event := s.logger.Debug()
	if result != "done" && result != "canceled" {
		event = s.logger.Warn().Err(err)
	}
	event.Str(gslog.FieldEvent, "gateway.stream_ended").
		Str("outcome", result).
		Int("delivered", s.delivered).
		Dur("duration", time.Since(s.started)).
		Msg("stream ended")
	return err
}

// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/genstream/internal/session"
)

// Attribute keys shared by spans across packages.
const (
	FeatureIDKey  = "genstream.feature_id"
	ChatIDKey     = "genstream.chat_id"
	TaskIDKey     = "genstream.task_id"
	AttemptKey    = "genstream.attempt"
	WorkerIDKey   = "genstream.worker_id"
	AdmissionKey  = "genstream.admission"
	EventCountKey = "genstream.events"
	OutcomeKey    = "genstream.outcome"
)

// SessionAttributes identifies the session a span works on.
func SessionAttributes(key session.Key) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(FeatureIDKey, key.FeatureID()),
		attribute.String(ChatIDKey, key.ChatID()),
	}
}

// TaskAttributes identifies a leased task.
func TaskAttributes(taskID, workerID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TaskIDKey, taskID),
		attribute.String(WorkerIDKey, workerID),
		attribute.Int(AttemptKey, attempt),
	}
}

// EndSpan records err (if any) and the outcome label, then ends span.
func EndSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String(OutcomeKey, outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"
	FieldFeatureID     = "feature_id"
	FieldChatID        = "chat_id"
	FieldStream        = "stream"
	FieldTaskID        = "task_id"
	FieldWorkerID      = "worker_id"
	FieldProducerID    = "producer_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldSequence  = "seq"

	// Scaling fields
	FieldReplicas    = "replicas"
	FieldOldReplicas = "old_replicas"
	FieldNewReplicas = "new_replicas"
	FieldReason      = "reason"
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/genstream/internal/eventlog"
	"github.com/ManuGH/genstream/internal/gateway"
	"github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/resilience"
	"github.com/ManuGH/genstream/internal/session"
	"github.com/ManuGH/genstream/internal/taskqueue"
)

// Error codes shared by JSON bodies, SSE error events and WebSocket error frames.
const (
	codeInvalidRequest = "invalid_request"
	codeTimeout        = "timeout"
	codeUnavailable    = "unavailable"
	codeSequenceGap    = "sequence_gap"
	codeInternal       = "internal"
)

// apiError is the JSON error body.
type apiError struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps a gateway error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidKey), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeInvalidRequest
	// Unavailability wraps the cause, and a dial timeout matches
	// context.DeadlineExceeded, so it is checked first.
	case errors.Is(err, eventlog.ErrLogUnavailable),
		errors.Is(err, taskqueue.ErrQueueUnavailable),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, codeUnavailable
	case errors.Is(err, eventlog.ErrReadTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	case errors.Is(err, gateway.ErrSequenceGap):
		return http.StatusBadGateway, codeSequenceGap
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// publicDetail hides internal error text behind a generic message for 5xx.
func publicDetail(code string, err error) string {
	switch code {
	case codeInvalidRequest:
		return err.Error()
	case codeTimeout:
		return "no event arrived within the read timeout"
	case codeUnavailable:
		return "event backend unavailable, retry later"
	case codeSequenceGap:
		return "event stream is inconsistent"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, r, status, apiError{
		Error:     code,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// writeGatewayError answers a request that failed before streaming started.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	// The client is gone; nobody reads the answer.
	if r.Context().Err() != nil {
		return
	}
	status, code := classify(err)
	logger := log.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Warn().Err(err).Str(log.FieldEvent, "api.stream_rejected").Str("code", code).Msg("stream request failed")
	}
	writeError(w, r, status, code, publicDetail(code, err))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/genstream/internal/log"
)

// handleStream relays a session as Server-Sent Events. The response status is held
// back until the first entry arrives so early failures still get a JSON error.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key, err := s.sessionKey(r)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	st, err := s.streams.RequestStream(r.Context(), key)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	defer st.Close()

	ev, err := st.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeGatewayError(w, r, err)
		return
	}

	sse := newSSEWriter(w)
	w.Header().Set(HeaderChatID, key.ChatID())
	w.WriteHeader(http.StatusOK)

	logger := log.WithContext(r.Context(), s.logger).With().
		Str(log.FieldFeatureID, key.FeatureID()).
		Str(log.FieldChatID, key.ChatID()).
		Logger()

	for err == nil {
		if werr := sse.event(ev); werr != nil {
			logger.Debug().Err(werr).Str(log.FieldEvent, "api.client_gone").Msg("stream write failed")
			return
		}
		ev, err = st.Next()
	}

	if errors.Is(err, io.EOF) {
		_ = sse.done()
		return
	}
	if r.Context().Err() != nil {
		return
	}
	_, code := classify(err)
	logger.Warn().Err(err).Str(log.FieldEvent, "api.stream_aborted").Str("code", code).Msg("stream aborted mid-flight")
	_ = sse.error(code, publicDetail(code, err))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/session"
)

// handleWS relays a session over a WebSocket: one text frame per event, a final
// "[DONE]" frame and a normal closure. Inbound frames are discarded; a peer close
// ends the subscription.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key, err := s.sessionKey(r)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	logger := log.WithContext(r.Context(), s.logger).With().
		Str(log.FieldFeatureID, key.FeatureID()).
		Str(log.FieldChatID, key.ChatID()).
		Logger()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		logger.Info().Err(err).Str(log.FieldEvent, "api.ws_accept_failed").Msg("websocket upgrade rejected")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// CloseRead cancels ctx when the peer closes or sends a data frame.
	ctx := conn.CloseRead(r.Context())

	st, err := s.streams.RequestStream(ctx, key)
	if err != nil {
		s.closeWithError(ctx, conn, err)
		return
	}
	defer st.Close()

	for {
		ev, err := st.Next()
		if errors.Is(err, io.EOF) {
			if err := s.writeFrame(ctx, conn, []byte(session.DoneSentinel)); err != nil {
				return
			}
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Str(log.FieldEvent, "api.stream_aborted").Msg("websocket stream aborted")
			s.closeWithError(ctx, conn, err)
			return
		}
		b, err := json.Marshal(ev)
		if err != nil {
			s.closeWithError(ctx, conn, err)
			return
		}
		if err := s.writeFrame(ctx, conn, b); err != nil {
			logger.Debug().Err(err).Str(log.FieldEvent, "api.client_gone").Msg("websocket write failed")
			return
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, b []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

// closeWithError sends an error frame, then closes with a status matching the failure.
func (s *Server) closeWithError(ctx context.Context, conn *websocket.Conn, err error) {
	if ctx.Err() != nil {
		return
	}
	status, code := classify(err)
	b, _ := json.Marshal(apiError{Error: code, Detail: publicDetail(code, err)})
	_ = s.writeFrame(ctx, conn, b)

	closeStatus := websocket.StatusInternalError
	switch status {
	case http.StatusBadRequest:
		closeStatus = websocket.StatusPolicyViolation
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		closeStatus = websocket.StatusTryAgainLater
	}
	_ = conn.Close(closeStatus, code)
}

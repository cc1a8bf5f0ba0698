// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/ManuGH/genstream/internal/session"
)

const maxBodyBytes = 4 << 10

var errBadRequest = errors.New("bad request")

// HeaderChatID returns the chat ID used for the session, which may be generated.
const HeaderChatID = "X-Chat-ID"

type streamRequest struct {
	FeatureID string `json:"feature_id"`
	ChatID    string `json:"chat_id"`
}

// sessionKey reads feature_id and chat_id from the query string and, for POST, from a
// JSON or form body. Query values win. A missing feature_id uses the configured
// feature; a missing chat_id starts a new chat.
func (s *Server) sessionKey(r *http.Request) (session.Key, error) {
	var req streamRequest
	if r.Method == http.MethodPost && r.Body != nil {
		if err := decodeBody(r, &req); err != nil {
			return session.Key{}, err
		}
	}
	q := r.URL.Query()
	if v := q.Get("feature_id"); v != "" {
		req.FeatureID = v
	}
	if v := q.Get("chat_id"); v != "" {
		req.ChatID = v
	}
	if req.FeatureID == "" {
		req.FeatureID = s.cfg.FeatureID
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}
	return session.NewKey(req.FeatureID, req.ChatID)
}

func decodeBody(r *http.Request, req *streamRequest) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fmt.Errorf("%w: bad content type", errBadRequest)
	}
	switch mt {
	case "application/json":
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: malformed JSON body", errBadRequest)
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("%w: malformed form body", errBadRequest)
		}
		req.FeatureID = r.PostForm.Get("feature_id")
		req.ChatID = r.PostForm.Get("chat_id")
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import "net/http"

type infoResponse struct {
	Info      string   `json:"info"`
	Service   string   `json:"service"`
	Version   string   `json:"version,omitempty"`
	FeatureID string   `json:"feature_id"`
	Endpoints []string `json:"endpoints"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, infoResponse{
		Info:      "Event driven streaming API",
		Service:   "genstream",
		Version:   s.cfg.Version,
		FeatureID: s.cfg.FeatureID,
		Endpoints: []string{"/stream", "/ws", "/health", "/healthz", "/readyz"},
	})
}

/*
 * This file is part of Lectern (https://github.com/lecternlabs/lectern).
 * Copyright (C) 2025 Lectern Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package server exposes the read-only diagnostics API. Nothing here is
// part of the engine's correctness contract.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/engine"
	"github.com/lecternlabs/lectern-hub/internal/ingest"
	"github.com/lecternlabs/lectern-hub/internal/logging"
	"github.com/lecternlabs/lectern-hub/internal/storage"
)

// Server is the diagnostics HTTP server
type Server struct {
	cfg    config.ServerConfig
	mux    *http.ServeMux
	server *http.Server

	registry *engine.Registry
	feed     *ingest.Client
	store    *storage.TranscriptStore
	sink     *storage.TranscriptSink
}

// New creates the diagnostics server over the hub's components
func New(cfg config.ServerConfig, registry *engine.Registry, feed *ingest.Client, store *storage.TranscriptStore, sink *storage.TranscriptSink) *Server {
	mux := http.NewServeMux()

	s := &Server{
		cfg:      cfg,
		mux:      mux,
		registry: registry,
		feed:     feed,
		store:    store,
		sink:     sink,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/rooms", s.handleRooms)
	s.mux.HandleFunc("/api/feed", s.handleFeed)
	s.mux.HandleFunc("/api/transcripts/recent", s.handleRecentTranscripts)
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	logging.Sugar.Infow("📊 Diagnostics server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":       "ok",
		"active_rooms": s.registry.ActiveRooms(),
	})
}

// handleRooms reports per-room queue depth, buffer size/age and worker
// liveness
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"rooms": s.registry.Stats(),
	})
}

// handleFeed reports feed connection state and counters
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.feed.Stats())
}

// handleRecentTranscripts reports recently stored transcripts. With a
// room_id query parameter it reads the store; otherwise it serves the
// in-memory recent window plus a 24h stored count.
func (s *Server) handleRecentTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	if roomID := r.URL.Query().Get("room_id"); roomID != "" {
		records, err := s.store.GetRecentByRoom(roomID, limit)
		if err != nil {
			logging.LogError(err, "Failed to query transcripts")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]interface{}{
			"room_id":     roomID,
			"transcripts": records,
		})
		return
	}

	count, err := s.store.CountSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		logging.LogError(err, "Failed to count transcripts")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	recent := s.sink.Recent()
	if len(recent) > limit {
		recent = recent[:limit]
	}

	s.writeJSON(w, map[string]interface{}{
		"stored_24h":  count,
		"transcripts": recent,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogError(err, "Failed to encode response")
	}
}

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

package storage

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/lecternlabs/lectern-hub/internal/events"
	"github.com/lecternlabs/lectern-hub/internal/logging"
	"github.com/lecternlabs/lectern-hub/internal/messaging"
)

// recentCacheSize bounds the in-memory window of recently stored records
// kept for the diagnostics API.
const recentCacheSize = 128

// TranscriptSink couples the durable transcript store with best-effort
// event publishing. It satisfies the engine's sink contract.
type TranscriptSink struct {
	store  *TranscriptStore
	nats   *messaging.NATSService
	recent *lru.Cache[string, *events.TranscriptRecord]
}

// NewTranscriptSink creates a sink over a store and an optional NATS
// service; nats may be nil when messaging is disabled
func NewTranscriptSink(store *TranscriptStore, nats *messaging.NATSService) (*TranscriptSink, error) {
	recent, err := lru.New[string, *events.TranscriptRecord](recentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create recent-transcript cache: %w", err)
	}
	return &TranscriptSink{store: store, nats: nats, recent: recent}, nil
}

// StoreTranscript durably appends the record and, for real transcripts,
// publishes a transcript-created event. Placeholder records are stored but
// never published.
func (s *TranscriptSink) StoreTranscript(rec *events.TranscriptRecord) error {
	if err := s.store.Insert(rec); err != nil {
		return fmt.Errorf("transcript insert: %w", err)
	}

	s.recent.Add(rec.UUID, rec)

	if !rec.Success {
		return nil
	}

	if s.nats != nil && s.nats.IsConnected() {
		if err := s.nats.PublishTranscript(rec); err != nil {
			// Publishing is best-effort; the record is already durable.
			logging.LogWarn("Failed to publish transcript event",
				zap.String("uuid", rec.UUID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// StoreEmbeddingIndex requests indexing from the external embedding
// indexer. A no-op when messaging is unavailable or the record is a
// placeholder.
func (s *TranscriptSink) StoreEmbeddingIndex(rec *events.TranscriptRecord) error {
	if !rec.Success {
		return nil
	}

	if s.nats == nil || !s.nats.IsConnected() {
		logging.Sugar.Debugw("Index backend unavailable, skipping index request",
			"uuid", rec.UUID)
		return nil
	}

	return s.nats.PublishIndexRequest(rec)
}

// Recent returns the most recently stored records, newest first
func (s *TranscriptSink) Recent() []*events.TranscriptRecord {
	values := s.recent.Values()
	out := make([]*events.TranscriptRecord, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i])
	}
	return out
}

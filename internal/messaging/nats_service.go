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

package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/events"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// NATS subjects for the hub's event types
const (
	SubjectTranscriptCreated = "lectern.transcripts.created"
	SubjectIndexRequests     = "lectern.index.requests"
)

// TranscriptEvent is the payload published when a transcript is stored
type TranscriptEvent struct {
	UUID         string  `json:"uuid"`
	RoomID       string  `json:"room_id"`
	ProducerID   string  `json:"producer_id"`
	CapturedAtMs int64   `json:"captured_at_ms"`
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	FlushReason  string  `json:"flush_reason"`
	Timestamp    int64   `json:"timestamp"`
}

// IndexRequestEvent asks the external embedding indexer to index a
// transcript. The hub itself never talks to the vector store.
type IndexRequestEvent struct {
	UUID       string `json:"uuid"`
	RoomID     string `json:"room_id"`
	ProducerID string `json:"producer_id"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// NATSService wraps the NATS connection for the hub's publishing needs
type NATSService struct {
	url  string
	opts []nats.Option
	conn *nats.Conn
}

// NewNATSService creates a new NATS service instance
func NewNATSService(cfg config.NATSConfig) *NATSService {
	opts := []nats.Option{
		nats.Name("lectern-hub"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Sugar.Infow("🔄 NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Sugar.Infow("🔌 NATS connection closed")
		}),
	}

	return &NATSService{url: cfg.URL, opts: opts}
}

// Connect establishes connection to the NATS server
func (ns *NATSService) Connect() error {
	conn, err := nats.Connect(ns.url, ns.opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	logging.Sugar.Infow("✅ Connected to NATS server", "url", conn.ConnectedUrl())
	return nil
}

// IsConnected reports whether the NATS connection is established
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// PublishTranscript publishes a transcript-created event
func (ns *NATSService) PublishTranscript(rec *events.TranscriptRecord) error {
	event := &TranscriptEvent{
		UUID:         rec.UUID,
		RoomID:       rec.RoomID,
		ProducerID:   rec.ProducerID,
		CapturedAtMs: rec.CapturedAtMs,
		Text:         rec.Text,
		Language:     rec.Language,
		NoSpeechProb: rec.NoSpeechProb,
		FlushReason:  rec.FlushReason,
		Timestamp:    time.Now().UnixNano(),
	}

	if err := ns.publish(SubjectTranscriptCreated, event); err != nil {
		return err
	}

	logging.LogNATSEvent(SubjectTranscriptCreated, "publish",
		zap.String("uuid", rec.UUID),
		zap.String("room_id", rec.RoomID),
	)
	return nil
}

// PublishIndexRequest publishes an embedding index request
func (ns *NATSService) PublishIndexRequest(rec *events.TranscriptRecord) error {
	event := &IndexRequestEvent{
		UUID:       rec.UUID,
		RoomID:     rec.RoomID,
		ProducerID: rec.ProducerID,
		Text:       rec.Text,
		Timestamp:  time.Now().UnixNano(),
	}

	if err := ns.publish(SubjectIndexRequests, event); err != nil {
		return err
	}

	logging.LogNATSEvent(SubjectIndexRequests, "publish",
		zap.String("uuid", rec.UUID),
	)
	return nil
}

// SubscribeToIndexRequests subscribes to index request events; used by
// diagnostics tooling and tests
func (ns *NATSService) SubscribeToIndexRequests(handler func(*IndexRequestEvent)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, fmt.Errorf("NATS connection not established")
	}

	return ns.conn.Subscribe(SubjectIndexRequests, func(msg *nats.Msg) {
		var event IndexRequestEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logging.LogError(err, "Error unmarshaling index request")
			return
		}
		handler(&event)
	})
}

func (ns *NATSService) publish(subject string, event interface{}) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := ns.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// Close drains and closes the NATS connection
func (ns *NATSService) Close() {
	if ns.conn != nil {
		if err := ns.conn.Drain(); err != nil {
			logging.LogWarn("Error draining NATS connection", zap.Error(err))
		}
		ns.conn = nil
	}
}

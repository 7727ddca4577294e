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

// Package ingest connects to the conference audio feed and routes validated
// chunks into the buffering engine. Reconnection is supervised here, with
// exponential backoff and context cancellation; the engine never sees
// transport concerns.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/engine"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// MessageTypeAudioChunk is the feed's audio fragment message type
const MessageTypeAudioChunk = "audio_chunk"

// Envelope is the outer frame of every feed message
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Dispatcher routes validated chunks; satisfied by the engine registry
type Dispatcher interface {
	Dispatch(chunk *engine.AudioChunk) error
}

// Stats is a read-only snapshot of feed counters
type Stats struct {
	Received   uint64 `json:"received"`
	Dispatched uint64 `json:"dispatched"`
	Malformed  uint64 `json:"malformed"`
	Dropped    uint64 `json:"dropped"`
	Connected  bool   `json:"connected"`
}

// Client consumes the audio feed over WebSocket
type Client struct {
	cfg        config.IngestConfig
	validator  *engine.Validator
	dispatcher Dispatcher

	received   atomic.Uint64
	dispatched atomic.Uint64
	malformed  atomic.Uint64
	dropped    atomic.Uint64
	connected  atomic.Bool
}

// NewClient creates a feed client routing into the given dispatcher
func NewClient(cfg config.IngestConfig, validator *engine.Validator, dispatcher Dispatcher) *Client {
	return &Client{
		cfg:        cfg,
		validator:  validator,
		dispatcher: dispatcher,
	}
}

// Run connects to the feed and consumes messages until the context is
// cancelled, reconnecting with exponential backoff on any failure
func (c *Client) Run(ctx context.Context) {
	wait := c.cfg.ReconnectMinWait
	for {
		if err := c.consume(ctx); err != nil && ctx.Err() == nil {
			logging.LogWarn("Feed connection lost, reconnecting",
				zap.String("url", c.cfg.URL),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		wait *= 2
		if wait > c.cfg.ReconnectMaxWait {
			wait = c.cfg.ReconnectMaxWait
		}
	}
}

// consume runs one connection until it fails or the context is cancelled
func (c *Client) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)

	logging.Sugar.Infow("✅ Connected to audio feed", "url", c.cfg.URL)

	// Close the connection when the context is cancelled so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handleMessage(payload)
	}
}

// handleMessage validates and routes one feed message. Bad messages are
// dropped and logged; they never reach a room worker.
func (c *Client) handleMessage(payload []byte) {
	c.received.Add(1)

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.malformed.Add(1)
		logging.LogWarn("Dropping unparseable feed message", zap.Error(err))
		return
	}

	if env.Type != MessageTypeAudioChunk {
		// Heartbeats and room notices are not the engine's concern.
		return
	}

	var in engine.InboundChunk
	if err := json.Unmarshal(env.Data, &in); err != nil {
		c.malformed.Add(1)
		logging.LogWarn("Dropping malformed audio_chunk payload", zap.Error(err))
		return
	}

	chunk, err := c.validator.Validate(in)
	if err != nil {
		c.malformed.Add(1)
		logging.LogWarn("Dropping invalid chunk",
			zap.String("room_id", in.RoomID),
			zap.String("producer_id", in.ProducerID),
			zap.Error(err),
		)
		return
	}

	if err := c.dispatcher.Dispatch(chunk); err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			c.dropped.Add(1)
			return // Dispatch already logged the backpressure event
		}
		c.dropped.Add(1)
		logging.LogError(err, "Failed to dispatch chunk",
			zap.String("room_id", chunk.RoomID),
		)
		return
	}

	c.dispatched.Add(1)
}

// Stats returns a snapshot of the feed counters
func (c *Client) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Dispatched: c.dispatched.Load(),
		Malformed:  c.malformed.Load(),
		Dropped:    c.dropped.Load(),
		Connected:  c.connected.Load(),
	}
}

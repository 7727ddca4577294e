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

// Package engine implements the per-room audio buffering and dispatch core:
// chunk validation, per-room accumulation, flush policy, room workers and
// the registry that owns their lifecycle.
package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrTooLarge indicates a chunk payload above the configured ceiling
	ErrTooLarge = errors.New("engine: chunk payload too large")

	// ErrMalformed indicates a chunk that fails schema or encoding checks
	ErrMalformed = errors.New("engine: malformed chunk")

	// ErrQueueFull indicates backpressure: the room queue rejected the chunk
	ErrQueueFull = errors.New("engine: room queue full")
)

// AudioChunk is one validated audio fragment. Immutable once validated;
// consumed exactly once by a room worker.
type AudioChunk struct {
	RoomID      string
	ProducerID  string
	TimestampMs int64
	Bytes       []byte
	Sequence    int
}

// InboundChunk is the typed shape of an audio_chunk message payload as it
// arrives from the feed, before validation.
type InboundChunk struct {
	RoomID      string `json:"roomId"`
	ProducerID  string `json:"producerId"`
	TimestampMs int64  `json:"timestampMs"`
	AudioBase64 string `json:"audioBuffer"`
	ChunkCount  int    `json:"chunkCount"`
}

// Validator normalizes inbound messages into typed AudioChunks
type Validator struct {
	maxChunkBytes int64
}

// NewValidator creates a validator with the given payload ceiling
func NewValidator(maxChunkBytes int64) *Validator {
	return &Validator{maxChunkBytes: maxChunkBytes}
}

// Validate checks an inbound chunk and returns its validated form.
// Rejections carry ErrMalformed or ErrTooLarge; rejected chunks never reach
// a room worker.
func (v *Validator) Validate(in InboundChunk) (*AudioChunk, error) {
	if in.RoomID == "" {
		return nil, fmt.Errorf("%w: missing roomId", ErrMalformed)
	}
	if in.ProducerID == "" {
		return nil, fmt.Errorf("%w: missing producerId", ErrMalformed)
	}
	if in.AudioBase64 == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	// Reject before decoding: four base64 text bytes decode to at most
	// three payload bytes, and padding can shave up to two of those. The
	// exact check after decoding catches the rest.
	if int64(len(in.AudioBase64))/4*3-2 > v.maxChunkBytes {
		return nil, fmt.Errorf("%w: encoded payload %d bytes", ErrTooLarge, len(in.AudioBase64))
	}

	payload, err := base64.StdEncoding.DecodeString(in.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio: %v", ErrMalformed, err)
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if int64(len(payload)) > v.maxChunkBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(payload), v.maxChunkBytes)
	}

	return &AudioChunk{
		RoomID:      in.RoomID,
		ProducerID:  in.ProducerID,
		TimestampMs: in.TimestampMs,
		Bytes:       payload,
		Sequence:    in.ChunkCount,
	}, nil
}

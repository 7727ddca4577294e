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

package engine

// bufferedChunk is one accumulated fragment with its capture time
type bufferedChunk struct {
	bytes       []byte
	timestampMs int64
}

// RoomBuffer accumulates audio fragments for one (room, producer) pair.
// It is pure bookkeeping: no truncation, no flushing, no locking. A buffer
// is only ever touched by its owning worker goroutine.
type RoomBuffer struct {
	producerID       string
	chunks           []bufferedChunk
	totalBytes       int64
	firstChunkTimeMs int64 // 0 means unset
	lastChunkTimeMs  int64
}

// NewRoomBuffer creates an empty buffer for a producer
func NewRoomBuffer(producerID string) *RoomBuffer {
	return &RoomBuffer{producerID: producerID}
}

// Append adds a chunk to the buffer and updates byte/time bookkeeping
func (b *RoomBuffer) Append(chunk *AudioChunk) {
	b.chunks = append(b.chunks, bufferedChunk{bytes: chunk.Bytes, timestampMs: chunk.TimestampMs})
	b.totalBytes += int64(len(chunk.Bytes))
	if b.firstChunkTimeMs == 0 {
		b.firstChunkTimeMs = chunk.TimestampMs
	}
	b.lastChunkTimeMs = chunk.TimestampMs
}

// ProducerID returns the producer this buffer accumulates for
func (b *RoomBuffer) ProducerID() string {
	return b.producerID
}

// TotalBytes returns the accumulated payload size
func (b *RoomBuffer) TotalBytes() int64 {
	return b.totalBytes
}

// ChunkCount returns the number of accumulated chunks
func (b *RoomBuffer) ChunkCount() int {
	return len(b.chunks)
}

// FirstChunkTimeMs returns the capture time of the first chunk, 0 if unset
func (b *RoomBuffer) FirstChunkTimeMs() int64 {
	return b.firstChunkTimeMs
}

// LastChunkTimeMs returns the capture time of the most recent chunk
func (b *RoomBuffer) LastChunkTimeMs() int64 {
	return b.lastChunkTimeMs
}

// ElapsedMs returns the capture-time span covered by the buffer
func (b *RoomBuffer) ElapsedMs() int64 {
	if b.firstChunkTimeMs == 0 {
		return 0
	}
	return b.lastChunkTimeMs - b.firstChunkTimeMs
}

// IsEmpty reports whether the buffer holds no chunks
func (b *RoomBuffer) IsEmpty() bool {
	return len(b.chunks) == 0
}

// Concat returns the accumulated bytes joined in arrival order
func (b *RoomBuffer) Concat() []byte {
	out := make([]byte, 0, b.totalBytes)
	for _, c := range b.chunks {
		out = append(out, c.bytes...)
	}
	return out
}

// Reset empties the buffer after a flush attempt. The last chunk time is
// preserved as the baseline for the next accumulation window.
func (b *RoomBuffer) Reset() {
	b.chunks = nil
	b.totalBytes = 0
	b.firstChunkTimeMs = 0
}

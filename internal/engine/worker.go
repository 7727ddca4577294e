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

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lecternlabs/lectern-hub/internal/asr"
	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/decode"
	"github.com/lecternlabs/lectern-hub/internal/events"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// PlaceholderText marks a stored record whose recognition failed. It is
// never published as a transcript event.
const PlaceholderText = "[transcription unavailable]"

// TranscriptSink receives accepted transcripts. Both stores are best-effort
// relative to the engine: failures are logged and never affect buffer state
// or worker liveness.
type TranscriptSink interface {
	// StoreTranscript durably appends a transcript record
	StoreTranscript(rec *events.TranscriptRecord) error

	// StoreEmbeddingIndex requests embedding indexing for a record; may be
	// a no-op when the indexing backend is unavailable
	StoreEmbeddingIndex(rec *events.TranscriptRecord) error
}

// Pipeline bundles the collaborators a flush runs through
type Pipeline struct {
	Decoder     decode.Decoder
	Transcriber asr.Transcriber
	Sink        TranscriptSink
}

// WorkerState is the lifecycle state of a room worker
type WorkerState int32

const (
	StateCreated WorkerState = iota
	StateActive
	StateIdle
	StateRetiring
	StateTerminated
)

// String returns the state label used in diagnostics
func (s WorkerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateRetiring:
		return "retiring"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Worker is one independent sequential processing unit for a room. It owns
// a bounded inbound queue and the room's buffers; no other goroutine ever
// mutates them, so buffer access needs no locking.
type Worker struct {
	roomID   string
	queue    chan *AudioChunk
	buffers  map[string]*RoomBuffer
	cfg      config.EngineConfig
	pipeline Pipeline

	ctx      context.Context // registry shutdown signal
	done     chan struct{}
	onRetire func(roomID string, w *Worker)

	// Diagnostics gauges; atomics so the registry can snapshot them
	// without touching worker-owned state.
	state        atomic.Int32
	lastActivity atomic.Int64 // unix ms
	bufferBytes  atomic.Int64
	bufferFirst  atomic.Int64 // earliest unflushed capture time, unix ms
	flushed      atomic.Uint64
	lost         atomic.Uint64
	rejected     atomic.Uint64
}

func newWorker(ctx context.Context, roomID string, cfg config.EngineConfig, pipeline Pipeline, onRetire func(string, *Worker)) *Worker {
	w := &Worker{
		roomID:   roomID,
		queue:    make(chan *AudioChunk, cfg.QueueCapacity),
		buffers:  make(map[string]*RoomBuffer),
		cfg:      cfg,
		pipeline: pipeline,
		ctx:      ctx,
		done:     make(chan struct{}),
		onRetire: onRetire,
	}
	w.state.Store(int32(StateCreated))
	w.lastActivity.Store(time.Now().UnixMilli())
	return w
}

// start launches the worker's processing goroutine
func (w *Worker) start() {
	go w.run()
}

// Done is closed when the worker has terminated
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State returns the current lifecycle state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// run is the worker loop: dequeue, accumulate, evaluate, flush. Retirement
// is cooperative; the current chunk and flush always complete first.
func (w *Worker) run() {
	defer close(w.done)
	defer w.setState(StateTerminated)
	defer w.onRetire(w.roomID, w)

	var idle time.Duration
	for {
		select {
		case <-w.ctx.Done():
			w.retire("shutdown")
			return

		case chunk := <-w.queue:
			w.setState(StateActive)
			w.lastActivity.Store(time.Now().UnixMilli())
			w.process(chunk)
			idle = 0

		case <-time.After(w.cfg.PollInterval):
			w.setState(StateIdle)
			idle += w.cfg.PollInterval
			if idle >= w.cfg.IdleTimeout {
				w.retire("idle_timeout")
				return
			}
		}
	}
}

// process appends a chunk to its producer's buffer and flushes if the
// policy says so
func (w *Worker) process(chunk *AudioChunk) {
	buf, ok := w.buffers[chunk.ProducerID]
	if !ok {
		buf = NewRoomBuffer(chunk.ProducerID)
		w.buffers[chunk.ProducerID] = buf
	}

	buf.Append(chunk)

	if decision := EvaluateFlush(buf, w.cfg.Flush); decision.ShouldFlush {
		w.flush(buf, decision.Reason)
	}

	w.updateGauges()
}

// retire drains whatever is still queued, flushes non-trivial buffers once
// and lets the loop exit
func (w *Worker) retire(cause string) {
	w.setState(StateRetiring)
	logging.LogRoomEvent(w.roomID, "retiring", zap.String("cause", cause))

	// Drain without blocking; chunks already accepted should not be lost
	// just because retirement won the select.
	for {
		select {
		case chunk := <-w.queue:
			w.process(chunk)
		default:
			w.finalFlush()
			w.updateGauges()
			return
		}
	}
}

// finalFlush flushes every buffer still holding a non-trivial amount of
// audio, exactly once per buffer
func (w *Worker) finalFlush() {
	for _, buf := range w.buffers {
		if buf.IsEmpty() || buf.TotalBytes() < w.cfg.FinalFlushMinBytes {
			continue
		}
		w.flush(buf, ReasonFinal)
	}
}

// flush runs one buffer through decode, recognition, acceptance and
// storage. Whatever the outcome, the buffer is reset afterwards.
func (w *Worker) flush(buf *RoomBuffer, reason FlushReason) {
	defer buf.Reset()

	totalBytes := buf.TotalBytes()
	chunkCount := buf.ChunkCount()
	capturedAt := buf.FirstChunkTimeMs()
	spanMs := buf.ElapsedMs()

	logging.LogFlush(w.roomID, buf.ProducerID(), reason.String(),
		zap.Int64("bytes", totalBytes),
		zap.Int("chunks", chunkCount),
		zap.Int64("span_ms", spanMs),
	)

	wav, err := w.pipeline.Decoder.Decode(buf.Concat())
	if err != nil {
		w.lost.Add(1)
		logging.LogError(err, "Decode failed, discarding buffer",
			zap.String("room_id", w.roomID),
			zap.String("producer_id", buf.ProducerID()),
			zap.Int64("bytes", totalBytes),
		)
		return
	}

	res, err := w.pipeline.Transcriber.Transcribe(context.Background(), wav)
	if err != nil {
		w.lost.Add(1)
		logging.LogError(err, "Transcription failed",
			zap.String("room_id", w.roomID),
			zap.String("producer_id", buf.ProducerID()),
		)
		if w.cfg.PlaceholderOnError {
			rec := events.NewTranscriptRecord(w.roomID, buf.ProducerID())
			rec.CapturedAtMs = capturedAt
			rec.AudioBytes = totalBytes
			rec.ChunkCount = chunkCount
			rec.SpanMs = spanMs
			rec.FlushReason = reason.String()
			rec.Text = PlaceholderText
			rec.SetError(err)
			w.store(rec)
		}
		return
	}

	if ok, why := AcceptTranscript(res); !ok {
		w.rejected.Add(1)
		logging.LogRoomEvent(w.roomID, "transcript_rejected",
			zap.String("producer_id", buf.ProducerID()),
			zap.String("reject_reason", why),
			zap.Int("chars", len(res.Text)),
		)
		return
	}

	rec := events.NewTranscriptRecord(w.roomID, buf.ProducerID())
	rec.CapturedAtMs = capturedAt
	rec.AudioBytes = totalBytes
	rec.ChunkCount = chunkCount
	rec.SpanMs = spanMs
	rec.FlushReason = reason.String()
	rec.SetResult(res.Text, res.Language, res.NoSpeechProb, res.Segments)

	w.store(rec)
	w.flushed.Add(1)
}

// store hands a record to the sink; sink failures never propagate
func (w *Worker) store(rec *events.TranscriptRecord) {
	if err := w.pipeline.Sink.StoreTranscript(rec); err != nil {
		logging.LogError(err, "Failed to store transcript",
			zap.String("room_id", rec.RoomID),
			zap.String("uuid", rec.UUID),
		)
	}
	if err := w.pipeline.Sink.StoreEmbeddingIndex(rec); err != nil {
		logging.LogError(err, "Failed to request embedding index",
			zap.String("room_id", rec.RoomID),
			zap.String("uuid", rec.UUID),
		)
	}
}

// updateGauges refreshes the diagnostics gauges from worker-owned state
func (w *Worker) updateGauges() {
	var total int64
	var first int64
	for _, buf := range w.buffers {
		total += buf.TotalBytes()
		if f := buf.FirstChunkTimeMs(); f != 0 && (first == 0 || f < first) {
			first = f
		}
	}
	w.bufferBytes.Store(total)
	w.bufferFirst.Store(first)
}

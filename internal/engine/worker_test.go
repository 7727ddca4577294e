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
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lecternlabs/lectern-hub/internal/asr"
	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/events"
)

// stubDecoder records what it was asked to decode
type stubDecoder struct {
	mu    sync.Mutex
	calls [][]byte
	err   error
}

func (d *stubDecoder) Decode(raw []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, raw)
	if d.err != nil {
		return nil, d.err
	}
	return raw, nil
}

func (d *stubDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *stubDecoder) call(i int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[i]
}

// stubTranscriber returns a fixed result or error; it can optionally block
// on a gate to hold a worker mid-flush
type stubTranscriber struct {
	mu      sync.Mutex
	result  asr.Result
	err     error
	calls   int
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (s *stubTranscriber) Transcribe(ctx context.Context, wav []byte) (*asr.Result, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	res := s.result
	return &res, nil
}

func (s *stubTranscriber) Close() error { return nil }

func (s *stubTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubSink collects stored records
type stubSink struct {
	mu      sync.Mutex
	stored  []*events.TranscriptRecord
	indexed []*events.TranscriptRecord
}

func (s *stubSink) StoreTranscript(rec *events.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, rec)
	return nil
}

func (s *stubSink) StoreEmbeddingIndex(rec *events.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, rec)
	return nil
}

func (s *stubSink) storedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func (s *stubSink) record(i int) *events.TranscriptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[i]
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxChunkBytes:      10 * 1024 * 1024,
		QueueCapacity:      50,
		EnqueueTimeout:     50 * time.Millisecond,
		PollInterval:       5 * time.Millisecond,
		IdleTimeout:        10 * time.Second,
		FinalFlushMinBytes: 5 * 1024,
		JoinTimeout:        2 * time.Second,
		Flush:              defaultFlushConfig(),
	}
}

func testPipeline() (*stubDecoder, *stubTranscriber, *stubSink, Pipeline) {
	dec := &stubDecoder{}
	tr := &stubTranscriber{result: asr.Result{
		Text:     "today we continue with eigenvalue decomposition",
		Language: "en",
	}}
	sink := &stubSink{}
	return dec, tr, sink, Pipeline{Decoder: dec, Transcriber: tr, Sink: sink}
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func dispatchBytes(t *testing.T, r *Registry, room, producer string, ts int64, payload []byte) {
	t.Helper()
	err := r.Dispatch(&AudioChunk{
		RoomID:      room,
		ProducerID:  producer,
		TimestampMs: ts,
		Bytes:       payload,
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
}

func TestWorkerFlushOnSufficientBytes(t *testing.T) {
	dec, tr, sink, pipeline := testPipeline()
	r := NewRegistry(testEngineConfig(), pipeline)
	defer r.Shutdown()

	// Five 100KB chunks in a two-second capture window cross the
	// sufficient-bytes threshold on the last one.
	for i := 0; i < 5; i++ {
		dispatchBytes(t, r, "room-1", "producer-1", int64(1000+500*i), make([]byte, 100_000))
	}

	waitFor(t, 2*time.Second, func() bool { return sink.storedCount() == 1 },
		"Expected one stored transcript")

	rec := sink.record(0)
	if rec.RoomID != "room-1" || rec.ProducerID != "producer-1" {
		t.Errorf("Record identity = %s/%s, want room-1/producer-1", rec.RoomID, rec.ProducerID)
	}
	if rec.FlushReason != "sufficient_bytes" {
		t.Errorf("FlushReason = %q, want %q", rec.FlushReason, "sufficient_bytes")
	}
	if rec.AudioBytes != 500_000 {
		t.Errorf("AudioBytes = %d, want 500000", rec.AudioBytes)
	}
	if rec.ChunkCount != 5 {
		t.Errorf("ChunkCount = %d, want 5", rec.ChunkCount)
	}
	if rec.CapturedAtMs != 1000 {
		t.Errorf("CapturedAtMs = %d, want 1000", rec.CapturedAtMs)
	}
	if rec.SpanMs != 2000 {
		t.Errorf("SpanMs = %d, want 2000", rec.SpanMs)
	}
	if !rec.Success {
		t.Error("Record should be marked successful")
	}
	if rec.Text != tr.result.Text {
		t.Errorf("Text = %q, want %q", rec.Text, tr.result.Text)
	}

	if dec.callCount() != 1 {
		t.Fatalf("Decoder calls = %d, want 1", dec.callCount())
	}
	if got := len(dec.call(0)); got != 500_000 {
		t.Errorf("Decoded payload = %d bytes, want 500000", got)
	}

	// The buffer is reset after the flush.
	waitFor(t, time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].BufferBytes == 0 && stats[0].Flushed == 1
	}, "Expected buffer reset and flush counter incremented")
}

func TestWorkerConcatenatesInArrivalOrder(t *testing.T) {
	dec, _, sink, pipeline := testPipeline()
	r := NewRegistry(testEngineConfig(), pipeline)
	defer r.Shutdown()

	first := bytes.Repeat([]byte{0xAA}, 200_000)
	second := bytes.Repeat([]byte{0xBB}, 200_000)
	third := bytes.Repeat([]byte{0xCC}, 100_000)

	dispatchBytes(t, r, "room-1", "producer-1", 1000, first)
	dispatchBytes(t, r, "room-1", "producer-1", 1100, second)
	dispatchBytes(t, r, "room-1", "producer-1", 1200, third)

	waitFor(t, 2*time.Second, func() bool { return sink.storedCount() == 1 },
		"Expected one stored transcript")

	want := append(append(append([]byte{}, first...), second...), third...)
	if !bytes.Equal(dec.call(0), want) {
		t.Error("Decoded payload does not preserve arrival order")
	}
}

func TestWorkerKeepsProducersSeparate(t *testing.T) {
	_, _, sink, pipeline := testPipeline()
	r := NewRegistry(testEngineConfig(), pipeline)
	defer r.Shutdown()

	// Neither producer alone reaches a threshold.
	dispatchBytes(t, r, "room-1", "producer-a", 1000, make([]byte, 300_000))
	dispatchBytes(t, r, "room-1", "producer-b", 1000, make([]byte, 300_000))

	waitFor(t, time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].BufferBytes == 600_000
	}, "Expected both producer buffers accumulated")

	if got := sink.storedCount(); got != 0 {
		t.Fatalf("Stored %d records before any threshold crossed", got)
	}

	// Producer A crosses sufficient bytes; B must be untouched.
	dispatchBytes(t, r, "room-1", "producer-a", 1500, make([]byte, 200_000))

	waitFor(t, 2*time.Second, func() bool { return sink.storedCount() == 1 },
		"Expected producer A flushed")

	rec := sink.record(0)
	if rec.ProducerID != "producer-a" {
		t.Errorf("Flushed producer = %q, want producer-a", rec.ProducerID)
	}
	if rec.AudioBytes != 500_000 {
		t.Errorf("AudioBytes = %d, want 500000", rec.AudioBytes)
	}

	waitFor(t, time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].BufferBytes == 300_000
	}, "Expected producer B's buffer to survive A's flush")
}

func TestWorkerRejectedTranscriptNotStored(t *testing.T) {
	_, tr, sink, pipeline := testPipeline()
	tr.result = asr.Result{Text: "ok"}

	r := NewRegistry(testEngineConfig(), pipeline)
	defer r.Shutdown()

	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 600_000))

	waitFor(t, 2*time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].Rejected == 1
	}, "Expected rejection counter incremented")

	if got := sink.storedCount(); got != 0 {
		t.Errorf("Stored %d records, want 0 for rejected transcript", got)
	}

	// The audio is still consumed; the buffer does not regrow.
	stats := r.Stats()
	if stats[0].BufferBytes != 0 {
		t.Errorf("BufferBytes after rejection = %d, want 0", stats[0].BufferBytes)
	}
}

func TestWorkerTranscribeFailureWithPlaceholder(t *testing.T) {
	_, tr, sink, pipeline := testPipeline()
	tr.err = errors.New("backend unreachable")

	cfg := testEngineConfig()
	cfg.PlaceholderOnError = true
	r := NewRegistry(cfg, pipeline)
	defer r.Shutdown()

	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 600_000))

	waitFor(t, 2*time.Second, func() bool { return sink.storedCount() == 1 },
		"Expected placeholder record stored")

	rec := sink.record(0)
	if rec.Success {
		t.Error("Placeholder record should not be marked successful")
	}
	if rec.Text != PlaceholderText {
		t.Errorf("Text = %q, want placeholder", rec.Text)
	}
	if rec.ErrorMessage == "" {
		t.Error("Placeholder record should carry the failure message")
	}
	if rec.AudioBytes != 600_000 {
		t.Errorf("AudioBytes = %d, want 600000", rec.AudioBytes)
	}
}

func TestWorkerTranscribeFailureWithoutPlaceholder(t *testing.T) {
	_, tr, sink, pipeline := testPipeline()
	tr.err = errors.New("backend unreachable")

	r := NewRegistry(testEngineConfig(), pipeline)
	defer r.Shutdown()

	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 600_000))

	waitFor(t, 2*time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].Lost == 1
	}, "Expected lost counter incremented")

	if got := sink.storedCount(); got != 0 {
		t.Errorf("Stored %d records, want 0 without placeholder", got)
	}
}

func TestWorkerDecodeFailureDiscardsBuffer(t *testing.T) {
	dec, tr, sink, pipeline := testPipeline()
	dec.err = errors.New("corrupt stream")

	r := NewRegistry(testEngineConfig(), pipeline)
	defer r.Shutdown()

	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 600_000))

	waitFor(t, 2*time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].Lost == 1 && stats[0].BufferBytes == 0
	}, "Expected buffer discarded after decode failure")

	if got := tr.callCount(); got != 0 {
		t.Errorf("Transcriber called %d times after decode failure, want 0", got)
	}
	if got := sink.storedCount(); got != 0 {
		t.Errorf("Stored %d records after decode failure, want 0", got)
	}
}

func TestWorkerIdleRetirement(t *testing.T) {
	_, _, sink, pipeline := testPipeline()

	cfg := testEngineConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	r := NewRegistry(cfg, pipeline)
	defer r.Shutdown()

	// Below the final-flush floor, so retirement discards it silently.
	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 1024))

	waitFor(t, 2*time.Second, func() bool { return r.ActiveRooms() == 0 },
		"Expected idle worker to retire")

	if got := sink.storedCount(); got != 0 {
		t.Errorf("Stored %d records, want 0 for a trivial retirement buffer", got)
	}

	// A later chunk revives the room with a fresh worker and empty buffers.
	dispatchBytes(t, r, "room-1", "producer-1", 9000, make([]byte, 2048))
	waitFor(t, time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].BufferBytes == 2048
	}, "Expected a fresh worker with only the new chunk buffered")
}

func TestWorkerFinalFlushOnShutdown(t *testing.T) {
	_, _, sink, pipeline := testPipeline()
	r := NewRegistry(testEngineConfig(), pipeline)

	// 20KB is far below every policy threshold but above the final-flush
	// floor.
	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 20*1024))

	waitFor(t, time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].BufferBytes == 20*1024
	}, "Expected chunk buffered before shutdown")

	r.Shutdown()

	if got := sink.storedCount(); got != 1 {
		t.Fatalf("Stored %d records after shutdown, want 1", got)
	}
	rec := sink.record(0)
	if rec.FlushReason != "final" {
		t.Errorf("FlushReason = %q, want %q", rec.FlushReason, "final")
	}
	if rec.AudioBytes != 20*1024 {
		t.Errorf("AudioBytes = %d, want %d", rec.AudioBytes, 20*1024)
	}

	if got := r.ActiveRooms(); got != 0 {
		t.Errorf("ActiveRooms after shutdown = %d, want 0", got)
	}
}

func TestWorkerShutdownSkipsTrivialBuffers(t *testing.T) {
	_, _, sink, pipeline := testPipeline()
	r := NewRegistry(testEngineConfig(), pipeline)

	dispatchBytes(t, r, "room-1", "producer-1", 1000, make([]byte, 1024))

	waitFor(t, time.Second, func() bool {
		stats := r.Stats()
		return len(stats) == 1 && stats[0].BufferBytes == 1024
	}, "Expected chunk buffered before shutdown")

	r.Shutdown()

	if got := sink.storedCount(); got != 0 {
		t.Errorf("Stored %d records, want 0 for a sub-floor buffer", got)
	}
}

func TestWorkerStateString(t *testing.T) {
	tests := []struct {
		state WorkerState
		want  string
	}{
		{StateCreated, "created"},
		{StateActive, "active"},
		{StateIdle, "idle"},
		{StateRetiring, "retiring"},
		{StateTerminated, "terminated"},
		{WorkerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("WorkerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

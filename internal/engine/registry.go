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
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// RoomStats is a read-only diagnostics snapshot of one room worker
type RoomStats struct {
	RoomID       string    `json:"room_id"`
	State        string    `json:"state"`
	QueueDepth   int       `json:"queue_depth"`
	BufferBytes  int64     `json:"buffer_bytes"`
	BufferAgeMs  int64     `json:"buffer_age_ms"`
	LastActivity time.Time `json:"last_activity"`
	Flushed      uint64    `json:"flushed"`
	Lost         uint64    `json:"lost"`
	Rejected     uint64    `json:"rejected"`
}

// Registry maps room identifiers to workers and owns their lifecycle. The
// room map is the only shared mutable structure in the engine; it enforces
// the at-most-one-live-worker-per-room invariant internally.
type Registry struct {
	cfg      config.EngineConfig
	pipeline Pipeline

	mu      sync.RWMutex
	workers map[string]*Worker

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewRegistry creates a registry with the given engine configuration and
// flush pipeline
func NewRegistry(cfg config.EngineConfig, pipeline Pipeline) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		pipeline: pipeline,
		workers:  make(map[string]*Worker),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch routes a validated chunk to its room's worker, creating the
// worker on first arrival. A full queue drops the chunk after the enqueue
// timeout and returns ErrQueueFull: the ingestion path is never blocked
// indefinitely, and flush thresholds tolerate missing fragments.
func (r *Registry) Dispatch(chunk *AudioChunk) error {
	select {
	case <-r.ctx.Done():
		return context.Canceled
	default:
	}

	w := r.lookupOrCreate(chunk.RoomID)

	select {
	case w.queue <- chunk:
		return nil
	case <-time.After(r.cfg.EnqueueTimeout):
		logging.LogWarn("Room queue full, dropping chunk",
			zap.String("room_id", chunk.RoomID),
			zap.String("producer_id", chunk.ProducerID),
			zap.Int("queue_capacity", r.cfg.QueueCapacity),
		)
		return ErrQueueFull
	}
}

// lookupOrCreate returns the live worker for a room, creating it exactly
// once under the lock (check, lock, re-check, create) so concurrent first
// arrivals cannot race a duplicate into existence.
func (r *Registry) lookupOrCreate(roomID string) *Worker {
	r.mu.RLock()
	w, ok := r.workers[roomID]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok = r.workers[roomID]; ok {
		return w
	}

	w = newWorker(r.ctx, roomID, r.cfg, r.pipeline, r.removeWorker)
	r.workers[roomID] = w
	w.start()

	logging.LogRoomEvent(roomID, "worker_created",
		zap.Int("active_rooms", len(r.workers)),
	)
	return w
}

// removeWorker drops a retired worker's mapping so a later chunk for the
// room creates a fresh worker. The identity check keeps a slow retirement
// from evicting a successor.
func (r *Registry) removeWorker(roomID string, w *Worker) {
	r.mu.Lock()
	if current, ok := r.workers[roomID]; ok && current == w {
		delete(r.workers, roomID)
	}
	remaining := len(r.workers)
	r.mu.Unlock()

	logging.LogRoomEvent(roomID, "worker_removed",
		zap.Int("active_rooms", remaining),
	)
}

// ActiveRooms returns the number of live workers
func (r *Registry) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Stats returns a diagnostics snapshot of all live workers, sorted by room
func (r *Registry) Stats() []RoomStats {
	r.mu.RLock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	now := time.Now().UnixMilli()
	stats := make([]RoomStats, 0, len(workers))
	for _, w := range workers {
		s := RoomStats{
			RoomID:       w.roomID,
			State:        w.State().String(),
			QueueDepth:   len(w.queue),
			BufferBytes:  w.bufferBytes.Load(),
			LastActivity: time.UnixMilli(w.lastActivity.Load()),
			Flushed:      w.flushed.Load(),
			Lost:         w.lost.Load(),
			Rejected:     w.rejected.Load(),
		}
		if first := w.bufferFirst.Load(); first != 0 && now > first {
			s.BufferAgeMs = now - first
		}
		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].RoomID < stats[j].RoomID })
	return stats
}

// Shutdown signals every worker to drain and stop, then joins each with the
// configured timeout. Workers that fail to terminate in time are abandoned
// with a warning rather than blocking process exit. Idempotent.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		logging.Sugar.Infow("Engine shutting down", "active_rooms", r.ActiveRooms())
		r.cancel()

		r.mu.RLock()
		workers := make([]*Worker, 0, len(r.workers))
		for _, w := range r.workers {
			workers = append(workers, w)
		}
		r.mu.RUnlock()

		for _, w := range workers {
			select {
			case <-w.Done():
			case <-time.After(r.cfg.JoinTimeout):
				logging.LogWarn("Worker did not terminate in time, abandoning",
					zap.String("room_id", w.roomID),
					zap.Duration("join_timeout", r.cfg.JoinTimeout),
				)
			}
		}

		logging.Sugar.Infow("Engine shutdown complete")
	})
}

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

import "github.com/lecternlabs/lectern-hub/internal/config"

// FlushReason identifies which policy rule triggered a flush
type FlushReason int

const (
	ReasonNone FlushReason = iota
	ReasonOptimalDuration
	ReasonSufficientBytes
	ReasonMaxBytes
	ReasonMinDuration
	ReasonForcedTimeout
	ReasonChunkCountFloor
	ReasonFinal // retirement or shutdown flush, not a policy rule
)

// String returns the reason label used in logs and stored records
func (r FlushReason) String() string {
	switch r {
	case ReasonOptimalDuration:
		return "optimal_duration"
	case ReasonSufficientBytes:
		return "sufficient_bytes"
	case ReasonMaxBytes:
		return "max_bytes"
	case ReasonMinDuration:
		return "min_duration"
	case ReasonForcedTimeout:
		return "forced_timeout"
	case ReasonChunkCountFloor:
		return "chunk_count_floor"
	case ReasonFinal:
		return "final"
	default:
		return "none"
	}
}

// FlushDecision is the outcome of evaluating the flush policy against a
// buffer. It carries no mutable state.
type FlushDecision struct {
	ShouldFlush bool
	Reason      FlushReason
}

// EvaluateFlush decides whether a buffer should be flushed. It is a pure
// function of the buffer state and the configured thresholds; rules are
// checked top to bottom and the first match wins. Rules 1 targets the
// recognizer's best-accuracy window, rules 2-3 bound memory and latency for
// bursty rooms, rule 5 keeps sparse rooms from growing unboundedly and rule
// 6 catches rapid small-chunk producers.
func EvaluateFlush(buf *RoomBuffer, limits config.FlushConfig) FlushDecision {
	if buf.IsEmpty() {
		return FlushDecision{}
	}

	elapsed := buf.ElapsedMs()
	total := buf.TotalBytes()

	switch {
	case elapsed >= limits.OptimalDuration.Milliseconds() && total >= limits.OptimalMinBytes:
		return FlushDecision{ShouldFlush: true, Reason: ReasonOptimalDuration}

	case total >= limits.SufficientBytes:
		return FlushDecision{ShouldFlush: true, Reason: ReasonSufficientBytes}

	case total >= limits.MaxBytes:
		return FlushDecision{ShouldFlush: true, Reason: ReasonMaxBytes}

	case elapsed >= limits.MinDuration.Milliseconds() && total >= limits.MinDurationBytes:
		return FlushDecision{ShouldFlush: true, Reason: ReasonMinDuration}

	case elapsed >= limits.ForcedTimeout.Milliseconds():
		return FlushDecision{ShouldFlush: true, Reason: ReasonForcedTimeout}

	case buf.ChunkCount() >= limits.ChunkCountFloor && total >= limits.ChunkCountBytes:
		return FlushDecision{ShouldFlush: true, Reason: ReasonChunkCountFloor}
	}

	return FlushDecision{}
}

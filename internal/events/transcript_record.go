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

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Segment is one timed span of a transcription result.
type Segment struct {
	Text         string  `json:"text"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// TranscriptRecord represents one stored transcription of a room buffer flush
type TranscriptRecord struct {
	// Core identification
	UUID       string    `json:"uuid" db:"uuid"`
	RoomID     string    `json:"room_id" db:"room_id"`
	ProducerID string    `json:"producer_id" db:"producer_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`

	// Audio metadata
	CapturedAtMs int64 `json:"captured_at_ms" db:"captured_at_ms"`
	AudioBytes   int64 `json:"audio_bytes" db:"audio_bytes"`
	ChunkCount   int   `json:"chunk_count" db:"chunk_count"`
	SpanMs       int64 `json:"span_ms" db:"span_ms"`

	// Recognition results
	Text         string    `json:"text" db:"text"`
	Language     string    `json:"language" db:"language"`
	NoSpeechProb float64   `json:"no_speech_prob" db:"no_speech_prob"`
	Segments     []Segment `json:"segments" db:"segments"`

	// Flush metadata
	FlushReason  string `json:"flush_reason" db:"flush_reason"`
	Success      bool   `json:"success" db:"success"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`
}

// NewTranscriptRecord creates a new TranscriptRecord with a generated UUID
// and current timestamp
func NewTranscriptRecord(roomID, producerID string) *TranscriptRecord {
	return &TranscriptRecord{
		UUID:       uuid.NewString(),
		RoomID:     roomID,
		ProducerID: producerID,
		CreatedAt:  time.Now(),
		Success:    true,
	}
}

// SetResult fills in the recognition results
func (tr *TranscriptRecord) SetResult(text, language string, noSpeechProb float64, segments []Segment) {
	tr.Text = text
	tr.Language = language
	tr.NoSpeechProb = noSpeechProb
	tr.Segments = segments
}

// SetError marks the record as a failed recognition with a placeholder text
func (tr *TranscriptRecord) SetError(err error) {
	tr.Success = false
	tr.ErrorMessage = err.Error()
}

// SegmentsJSON returns segments as a JSON string for database storage
func (tr *TranscriptRecord) SegmentsJSON() (string, error) {
	if tr.Segments == nil {
		return "[]", nil
	}

	data, err := json.Marshal(tr.Segments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal segments: %w", err)
	}

	return string(data), nil
}

// SetSegmentsFromJSON parses a JSON string and sets segments
func (tr *TranscriptRecord) SetSegmentsFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "[]" {
		tr.Segments = nil
		return nil
	}

	var segments []Segment
	if err := json.Unmarshal([]byte(jsonStr), &segments); err != nil {
		return fmt.Errorf("failed to unmarshal segments JSON: %w", err)
	}

	tr.Segments = segments
	return nil
}

// IsValid performs basic validation on the transcript record
func (tr *TranscriptRecord) IsValid() error {
	if tr.UUID == "" {
		return fmt.Errorf("UUID is required")
	}

	if tr.RoomID == "" {
		return fmt.Errorf("roomID is required")
	}

	if tr.ProducerID == "" {
		return fmt.Errorf("producerID is required")
	}

	if tr.CreatedAt.IsZero() {
		return fmt.Errorf("created timestamp is required")
	}

	if tr.NoSpeechProb < 0 || tr.NoSpeechProb > 1 {
		return fmt.Errorf("noSpeechProb must be between 0 and 1")
	}

	return nil
}

// String returns a human-readable representation of the transcript record
func (tr *TranscriptRecord) String() string {
	return fmt.Sprintf("TranscriptRecord{UUID: %s, RoomID: %s, Producer: %s, Text: %q, Reason: %s, Success: %t}",
		tr.UUID, tr.RoomID, tr.ProducerID, tr.Text, tr.FlushReason, tr.Success)
}

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
	"errors"
	"strings"
	"testing"
)

func TestNewTranscriptRecord(t *testing.T) {
	rec := NewTranscriptRecord("room-1", "producer-1")

	if rec.UUID == "" {
		t.Error("UUID should be generated")
	}
	if rec.RoomID != "room-1" || rec.ProducerID != "producer-1" {
		t.Errorf("Identity = %s/%s, want room-1/producer-1", rec.RoomID, rec.ProducerID)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if !rec.Success {
		t.Error("New record should default to successful")
	}

	other := NewTranscriptRecord("room-1", "producer-1")
	if rec.UUID == other.UUID {
		t.Error("UUIDs should be unique per record")
	}
}

func TestTranscriptRecordSetResult(t *testing.T) {
	rec := NewTranscriptRecord("room-1", "producer-1")
	segments := []Segment{
		{Text: "hello", Start: 0, End: 1.2, NoSpeechProb: 0.1},
		{Text: "world", Start: 1.2, End: 2.4, NoSpeechProb: 0.2},
	}

	rec.SetResult("hello world", "en", 0.15, segments)

	if rec.Text != "hello world" || rec.Language != "en" {
		t.Errorf("Result = %q/%q, want hello world/en", rec.Text, rec.Language)
	}
	if rec.NoSpeechProb != 0.15 {
		t.Errorf("NoSpeechProb = %f, want 0.15", rec.NoSpeechProb)
	}
	if len(rec.Segments) != 2 {
		t.Errorf("Segments = %d, want 2", len(rec.Segments))
	}
	if !rec.Success {
		t.Error("SetResult should leave the record successful")
	}
}

func TestTranscriptRecordSetError(t *testing.T) {
	rec := NewTranscriptRecord("room-1", "producer-1")
	rec.SetError(errors.New("backend unreachable"))

	if rec.Success {
		t.Error("SetError should mark the record unsuccessful")
	}
	if rec.ErrorMessage != "backend unreachable" {
		t.Errorf("ErrorMessage = %q", rec.ErrorMessage)
	}
}

func TestSegmentsJSONRoundTrip(t *testing.T) {
	rec := NewTranscriptRecord("room-1", "producer-1")
	rec.Segments = []Segment{
		{Text: "first", Start: 0, End: 2.5, NoSpeechProb: 0.05},
		{Text: "second", Start: 2.5, End: 4.0, NoSpeechProb: 0.6},
	}

	jsonStr, err := rec.SegmentsJSON()
	if err != nil {
		t.Fatalf("SegmentsJSON failed: %v", err)
	}

	restored := NewTranscriptRecord("room-1", "producer-1")
	if err := restored.SetSegmentsFromJSON(jsonStr); err != nil {
		t.Fatalf("SetSegmentsFromJSON failed: %v", err)
	}

	if len(restored.Segments) != 2 {
		t.Fatalf("Restored %d segments, want 2", len(restored.Segments))
	}
	if restored.Segments[1] != rec.Segments[1] {
		t.Errorf("Segment mismatch: %+v != %+v", restored.Segments[1], rec.Segments[1])
	}
}

func TestSegmentsJSONEmpty(t *testing.T) {
	rec := NewTranscriptRecord("room-1", "producer-1")

	jsonStr, err := rec.SegmentsJSON()
	if err != nil {
		t.Fatalf("SegmentsJSON failed: %v", err)
	}
	if jsonStr != "[]" {
		t.Errorf("Empty segments serialized to %q, want []", jsonStr)
	}

	if err := rec.SetSegmentsFromJSON(""); err != nil {
		t.Errorf("SetSegmentsFromJSON on empty string failed: %v", err)
	}
	if rec.Segments != nil {
		t.Error("Empty JSON should leave segments nil")
	}
}

func TestTranscriptRecordIsValid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*TranscriptRecord)
		wantOK bool
	}{
		{"complete record", func(r *TranscriptRecord) {}, true},
		{"missing uuid", func(r *TranscriptRecord) { r.UUID = "" }, false},
		{"missing room", func(r *TranscriptRecord) { r.RoomID = "" }, false},
		{"missing producer", func(r *TranscriptRecord) { r.ProducerID = "" }, false},
		{"probability above one", func(r *TranscriptRecord) { r.NoSpeechProb = 1.5 }, false},
		{"negative probability", func(r *TranscriptRecord) { r.NoSpeechProb = -0.1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewTranscriptRecord("room-1", "producer-1")
			tt.modify(rec)

			err := rec.IsValid()
			if tt.wantOK && err != nil {
				t.Errorf("IsValid = %v, want nil", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("IsValid = nil, want error")
			}
		})
	}
}

func TestTranscriptRecordString(t *testing.T) {
	rec := NewTranscriptRecord("room-1", "producer-1")
	rec.Text = "sample text"
	rec.FlushReason = "sufficient_bytes"

	s := rec.String()
	for _, want := range []string{"room-1", "producer-1", "sample text", "sufficient_bytes"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

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

package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lecternlabs/lectern-hub/internal/events"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// TranscriptStore handles database operations for transcript records
type TranscriptStore struct {
	db *Database
}

// NewTranscriptStore creates a new transcript store
func NewTranscriptStore(db *Database) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Insert stores a new transcript record in the database
func (s *TranscriptStore) Insert(rec *events.TranscriptRecord) error {
	if err := rec.IsValid(); err != nil {
		return fmt.Errorf("invalid transcript record: %w", err)
	}

	segmentsJSON, err := rec.SegmentsJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize segments: %w", err)
	}

	query := `
		INSERT INTO transcripts (
			uuid, room_id, producer_id, created_at,
			captured_at_ms, audio_bytes, chunk_count, span_ms,
			text, language, no_speech_prob, segments,
			flush_reason, success, error_message
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?
		)`

	_, err = s.db.DB().Exec(query,
		rec.UUID, rec.RoomID, rec.ProducerID, rec.CreatedAt,
		rec.CapturedAtMs, rec.AudioBytes, rec.ChunkCount, rec.SpanMs,
		rec.Text, rec.Language, rec.NoSpeechProb, segmentsJSON,
		rec.FlushReason, rec.Success, rec.ErrorMessage,
	)

	if err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}

	logging.LogDatabaseOperation("insert", "transcripts")
	return nil
}

// GetByUUID retrieves a transcript record by its UUID
func (s *TranscriptStore) GetByUUID(uuid string) (*events.TranscriptRecord, error) {
	query := selectColumns + ` WHERE uuid = ?`

	row := s.db.DB().QueryRow(query, uuid)
	return s.scanTranscript(row)
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	RoomID     string
	ProducerID string
	Success    *bool // nil = all, true = real transcripts, false = placeholders
	Since      *time.Time

	// Pagination
	Limit  int
	Offset int
}

// List retrieves transcript records with pagination and filtering, newest
// first
func (s *TranscriptStore) List(options ListOptions) ([]*events.TranscriptRecord, error) {
	query, args := s.buildListQuery(options)

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var records []*events.TranscriptRecord
	for rows.Next() {
		rec, err := s.scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcripts: %w", err)
	}

	return records, nil
}

// ListRecent retrieves the most recent transcripts across all rooms
func (s *TranscriptStore) ListRecent(limit int) ([]*events.TranscriptRecord, error) {
	return s.List(ListOptions{Limit: limit})
}

// GetRecentByRoom retrieves recent transcripts for a specific room
func (s *TranscriptStore) GetRecentByRoom(roomID string, limit int) ([]*events.TranscriptRecord, error) {
	return s.List(ListOptions{RoomID: roomID, Limit: limit})
}

// CountSince returns the number of transcripts stored since the given time
func (s *TranscriptStore) CountSince(since time.Time) (int64, error) {
	var count int64
	err := s.db.DB().QueryRow(
		"SELECT COUNT(*) FROM transcripts WHERE created_at >= ?", since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcripts: %w", err)
	}
	return count, nil
}

const selectColumns = `
	SELECT uuid, room_id, producer_id, created_at,
		   captured_at_ms, audio_bytes, chunk_count, span_ms,
		   text, language, no_speech_prob, segments,
		   flush_reason, success, error_message
	FROM transcripts`

// buildListQuery constructs the SQL query based on ListOptions
func (s *TranscriptStore) buildListQuery(options ListOptions) (string, []interface{}) {
	query := selectColumns + ` WHERE 1=1`

	var args []interface{}

	if options.RoomID != "" {
		query += " AND room_id = ?"
		args = append(args, options.RoomID)
	}

	if options.ProducerID != "" {
		query += " AND producer_id = ?"
		args = append(args, options.ProducerID)
	}

	if options.Success != nil {
		query += " AND success = ?"
		args = append(args, *options.Success)
	}

	if options.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, *options.Since)
	}

	query += " ORDER BY created_at DESC"

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

// scanTranscript scans a database row into a TranscriptRecord
func (s *TranscriptStore) scanTranscript(scanner interface{ Scan(...interface{}) error }) (*events.TranscriptRecord, error) {
	var rec events.TranscriptRecord
	var segmentsJSON string

	err := scanner.Scan(
		&rec.UUID, &rec.RoomID, &rec.ProducerID, &rec.CreatedAt,
		&rec.CapturedAtMs, &rec.AudioBytes, &rec.ChunkCount, &rec.SpanMs,
		&rec.Text, &rec.Language, &rec.NoSpeechProb, &segmentsJSON,
		&rec.FlushReason, &rec.Success, &rec.ErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transcript not found")
		}
		return nil, err
	}

	if err := rec.SetSegmentsFromJSON(segmentsJSON); err != nil {
		return nil, err
	}

	return &rec, nil
}

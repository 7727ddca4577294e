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

// Package asr provides speech-to-text backends behind a single Transcriber
// interface. Input is always canonical audio: mono 16 kHz 16-bit PCM WAV.
package asr

import (
	"context"
	"errors"
	"fmt"

	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/events"
)

// ErrUnavailable indicates the recognition backend cannot be reached or is
// not configured. Callers treat it as a per-flush failure, never fatal.
var ErrUnavailable = errors.New("asr: backend unavailable")

// Result is the outcome of one transcription call.
type Result struct {
	Text         string
	Language     string
	NoSpeechProb float64
	Segments     []events.Segment
}

// Transcriber defines the interface for speech-to-text backends.
// Implementations must be safe for concurrent use; internal serialization
// of a single-instance model is the implementation's responsibility.
type Transcriber interface {
	// Transcribe converts canonical WAV audio to text
	Transcribe(ctx context.Context, wav []byte) (*Result, error)

	// Close cleans up resources
	Close() error
}

// New creates the Transcriber selected by the configuration.
func New(cfg config.ASRConfig) (Transcriber, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAIClient(cfg)
	case "whisper":
		return NewWhisperTranscriber(cfg.ModelPath, cfg.Language)
	case "none":
		return &unavailableTranscriber{}, nil
	default:
		return nil, fmt.Errorf("asr: unknown backend %q", cfg.Backend)
	}
}

// unavailableTranscriber always reports ErrUnavailable. Used when no backend
// is configured so the engine's degraded path is exercised instead of a nil
// collaborator.
type unavailableTranscriber struct{}

func (u *unavailableTranscriber) Transcribe(ctx context.Context, wav []byte) (*Result, error) {
	return nil, ErrUnavailable
}

func (u *unavailableTranscriber) Close() error { return nil }

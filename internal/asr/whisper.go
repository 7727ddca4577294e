//go:build whisper

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

package asr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lecternlabs/lectern-hub/internal/decode"
	"github.com/lecternlabs/lectern-hub/internal/events"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// WhisperTranscriber handles speech-to-text using a local whisper.cpp model
type WhisperTranscriber struct {
	model     whisper.Model
	modelPath string
	language  string

	// whisper.cpp contexts are not safe for concurrent use on one model,
	// so calls from different room workers are serialized here.
	mu sync.Mutex
}

// NewWhisperTranscriber creates a new whisper.cpp transcriber
func NewWhisperTranscriber(modelPath, language string) (*WhisperTranscriber, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.Sugar.Infow("Whisper model loaded", "model_path", modelPath)
	return &WhisperTranscriber{
		model:     model,
		modelPath: modelPath,
		language:  language,
	}, nil
}

// Transcribe implements the Transcriber interface
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte) (*Result, error) {
	if wt.model == nil {
		return nil, fmt.Errorf("%w: whisper model not initialized", ErrUnavailable)
	}

	samples, err := decode.SamplesFromWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("failed to extract samples from WAV: %w", err)
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	wctx, err := wt.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}

	if wt.language != "" {
		if err := wctx.SetLanguage(wt.language); err != nil {
			logging.LogWarn("Failed to set whisper language, using auto-detect")
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to process audio: %w", err)
	}

	result := &Result{Language: wt.language}
	var transcript strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read whisper segment: %w", err)
		}
		if transcript.Len() > 0 {
			transcript.WriteByte(' ')
		}
		transcript.WriteString(strings.TrimSpace(segment.Text))

		// The Go bindings do not expose no_speech_prob; leaving it at zero
		// means acceptance falls back to the length and repetition checks.
		result.Segments = append(result.Segments, events.Segment{
			Text:  strings.TrimSpace(segment.Text),
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
		})
	}

	result.Text = strings.TrimSpace(transcript.String())
	return result, nil
}

// Close cleans up the whisper model
func (wt *WhisperTranscriber) Close() error {
	if wt.model != nil {
		if err := wt.model.Close(); err != nil {
			return err
		}
		logging.Sugar.Infow("Whisper model closed", "model_path", wt.modelPath)
	}
	return nil
}

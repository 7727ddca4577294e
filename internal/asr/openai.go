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
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/events"
	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// OpenAIClient implements Transcriber against any OpenAI-compatible
// transcription endpoint (OpenAI itself, faster-whisper-server, speaches,
// and similar self-hosted services).
type OpenAIClient struct {
	client      *openai.Client
	model       string
	language    string
	temperature float32
	timeout     time.Duration
}

// NewOpenAIClient creates a new OpenAI-compatible transcription client
func NewOpenAIClient(cfg config.ASRConfig) (*OpenAIClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("asr: base URL must be provided")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.URL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		language:    cfg.Language,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}

	logging.Sugar.Infow("ASR backend configured",
		"backend", "openai",
		"base_url", clientConfig.BaseURL,
		"model", cfg.Model,
	)

	return c, nil
}

// Transcribe implements the Transcriber interface
func (c *OpenAIClient) Transcribe(ctx context.Context, wav []byte) (*Result, error) {
	if len(wav) == 0 {
		return nil, fmt.Errorf("asr: empty audio data")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       c.model,
		FilePath:    "audio.wav",
		Reader:      bytes.NewReader(wav),
		Language:    c.language,
		Temperature: c.temperature,
		Format:      openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("asr: transcription request failed: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}

	// The verbose_json schema has no whole-result no_speech_prob; derive it
	// as the duration-weighted mean over segments.
	var weighted, span float64
	for _, seg := range resp.Segments {
		dur := seg.End - seg.Start
		if dur <= 0 {
			dur = 1
		}
		weighted += seg.NoSpeechProb * dur
		span += dur

		result.Segments = append(result.Segments, events.Segment{
			Text:         strings.TrimSpace(seg.Text),
			Start:        seg.Start,
			End:          seg.End,
			NoSpeechProb: seg.NoSpeechProb,
		})
	}
	if span > 0 {
		result.NoSpeechProb = weighted / span
	}

	logging.Sugar.Debugw("Transcription completed",
		"model", c.model,
		"language", result.Language,
		"segments", len(result.Segments),
		"chars", len(result.Text),
		"elapsed", time.Since(start),
	)

	return result, nil
}

// Close implements the Transcriber interface
func (c *OpenAIClient) Close() error {
	return nil
}

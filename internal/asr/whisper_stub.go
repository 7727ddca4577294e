//go:build !whisper

package asr

import (
	"context"
	"fmt"
)

// WhisperTranscriber stub implementation when whisper is disabled
type WhisperTranscriber struct {
	modelPath string
}

// NewWhisperTranscriber creates a stub transcriber when whisper is disabled
func NewWhisperTranscriber(modelPath, language string) (*WhisperTranscriber, error) {
	return &WhisperTranscriber{
		modelPath: modelPath,
	}, nil
}

// Transcribe stub implementation reports the backend as unavailable
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte) (*Result, error) {
	return nil, fmt.Errorf("%w: whisper disabled (build with -tags whisper to enable)", ErrUnavailable)
}

// Close stub implementation
func (wt *WhisperTranscriber) Close() error {
	// Nothing to clean up in stub
	return nil
}

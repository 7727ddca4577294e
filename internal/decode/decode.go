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

// Package decode converts the raw bytes a room buffer accumulates into
// canonical audio the recognition backends accept: mono 16 kHz 16-bit PCM
// wrapped in a WAV container.
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CanonicalSampleRate is the sample rate of canonical audio.
const CanonicalSampleRate = 16000

// Decoder converts raw accumulated audio bytes into canonical WAV audio.
type Decoder interface {
	Decode(raw []byte) ([]byte, error)
}

// PCMDecoder interprets raw bytes as mono 16 kHz 16-bit little-endian PCM
// and wraps them in a WAV container. It is the fallback interpretation when
// the primary codec rejects the payload, and the primary when no codec
// support is compiled in.
type PCMDecoder struct{}

// NewPCMDecoder creates a raw-PCM decoder
func NewPCMDecoder() *PCMDecoder {
	return &PCMDecoder{}
}

// Decode implements the Decoder interface
func (d *PCMDecoder) Decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode: empty payload")
	}

	// Already-framed WAV passes through untouched.
	if len(raw) >= 12 && bytes.Equal(raw[:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")) {
		return raw, nil
	}

	if len(raw)%2 != 0 {
		// An odd byte count cannot be 16-bit PCM; drop the trailing byte
		// rather than reject a whole buffer over one truncated fragment.
		raw = raw[:len(raw)-1]
		if len(raw) == 0 {
			return nil, fmt.Errorf("decode: payload too short for 16-bit PCM")
		}
	}

	samples := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &samples); err != nil {
		return nil, fmt.Errorf("decode: failed to read PCM samples: %w", err)
	}

	return EncodeWAV(samples, CanonicalSampleRate)
}

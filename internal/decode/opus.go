//go:build opus

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

package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"

	"github.com/lecternlabs/lectern-hub/internal/logging"
)

// maxOpusFrameSamples is 120ms at 16 kHz, the largest frame opus allows.
const maxOpusFrameSamples = 1920

// OpusDecoder interprets the payload as uint16-length-prefixed opus frames,
// the framing the conference feed uses for compressed producers. When the
// payload does not parse as opus it falls back to the raw-PCM interpretation.
type OpusDecoder struct {
	fallback *PCMDecoder
}

// NewDecoder creates the opus-capable decoder
func NewDecoder() Decoder {
	return &OpusDecoder{fallback: NewPCMDecoder()}
}

// Decode implements the Decoder interface
func (d *OpusDecoder) Decode(raw []byte) ([]byte, error) {
	samples, err := d.decodeOpus(raw)
	if err == nil {
		return EncodeWAV(samples, CanonicalSampleRate)
	}

	logging.Sugar.Debugw("Opus interpretation failed, falling back to raw PCM",
		"error", err, "bytes", len(raw))
	return d.fallback.Decode(raw)
}

func (d *OpusDecoder) decodeOpus(raw []byte) ([]int16, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("payload too short for opus framing")
	}

	dec, err := opus.NewDecoder(CanonicalSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	var samples []int16
	frame := make([]int16, maxOpusFrameSamples)
	for off := 0; off < len(raw); {
		if off+2 > len(raw) {
			return nil, fmt.Errorf("truncated frame header at offset %d", off)
		}
		n := int(binary.LittleEndian.Uint16(raw[off:]))
		off += 2
		if n == 0 || off+n > len(raw) {
			return nil, fmt.Errorf("invalid frame length %d at offset %d", n, off)
		}

		written, err := dec.Decode(raw[off:off+n], frame)
		if err != nil {
			return nil, fmt.Errorf("opus decode failed at offset %d: %w", off, err)
		}
		samples = append(samples, frame[:written]...)
		off += n
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples decoded")
	}
	return samples, nil
}

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
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func sineSamples(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(10000 * math.Sin(float64(i)/10))
	}
	return samples
}

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	samples := sineSamples(1600)

	data, err := EncodeWAV(samples, CanonicalSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(samples)*2 {
		t.Errorf("Encoded size = %d, want %d", len(data), 44+len(samples)*2)
	}
	if !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Error("Encoded data is not a RIFF/WAVE container")
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != CanonicalSampleRate {
		t.Errorf("Sample rate = %d, want %d", rate, CanonicalSampleRate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, CanonicalSampleRate); err == nil {
		t.Error("EncodeWAV should reject empty samples")
	}
	if _, err := EncodeWAV(sineSamples(10), 0); err == nil {
		t.Error("EncodeWAV should reject a zero sample rate")
	}
}

func TestDecodeWAVRejectsBadInput(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Error("DecodeWAV should reject truncated data")
	}

	junk := make([]byte, 64)
	copy(junk, "JUNKJUNKJUNK")
	if _, _, err := DecodeWAV(junk); err == nil {
		t.Error("DecodeWAV should reject a non-RIFF header")
	}
}

func TestSamplesFromWAVNormalizes(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	data, err := EncodeWAV(samples, CanonicalSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	floats, err := SamplesFromWAV(data)
	if err != nil {
		t.Fatalf("SamplesFromWAV failed: %v", err)
	}
	if len(floats) != len(samples) {
		t.Fatalf("Got %d samples, want %d", len(floats), len(samples))
	}

	for i, f := range floats {
		if f < -1.0 || f > 1.0 {
			t.Errorf("Sample %d = %f, outside [-1, 1]", i, f)
		}
	}
	if floats[0] != 0 {
		t.Errorf("Zero sample normalized to %f", floats[0])
	}
	if floats[1] != 0.5 {
		t.Errorf("Half-scale sample normalized to %f, want 0.5", floats[1])
	}
	if floats[4] != -1.0 {
		t.Errorf("Full-scale negative sample normalized to %f, want -1", floats[4])
	}
}

func TestPCMDecoderWrapsRawPCM(t *testing.T) {
	d := NewPCMDecoder()

	samples := sineSamples(800)
	raw := new(bytes.Buffer)
	if err := binary.Write(raw, binary.LittleEndian, samples); err != nil {
		t.Fatalf("Failed to build raw PCM: %v", err)
	}

	wav, err := d.Decode(raw.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("Decoder output is not valid WAV: %v", err)
	}
	if rate != CanonicalSampleRate {
		t.Errorf("Sample rate = %d, want %d", rate, CanonicalSampleRate)
	}
	if len(decoded) != len(samples) {
		t.Errorf("Decoded %d samples, want %d", len(decoded), len(samples))
	}
}

func TestPCMDecoderPassesThroughWAV(t *testing.T) {
	d := NewPCMDecoder()

	wav, err := EncodeWAV(sineSamples(100), CanonicalSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	out, err := d.Decode(wav)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(out, wav) {
		t.Error("Framed WAV input should pass through unchanged")
	}
}

func TestPCMDecoderTrimsOddTrailingByte(t *testing.T) {
	d := NewPCMDecoder()

	samples := sineSamples(50)
	raw := new(bytes.Buffer)
	if err := binary.Write(raw, binary.LittleEndian, samples); err != nil {
		t.Fatalf("Failed to build raw PCM: %v", err)
	}
	odd := append(raw.Bytes(), 0x7F)

	wav, err := d.Decode(odd)
	if err != nil {
		t.Fatalf("Decode failed on odd-length payload: %v", err)
	}

	decoded, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("Decoder output is not valid WAV: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Errorf("Decoded %d samples, want %d", len(decoded), len(samples))
	}
}

func TestPCMDecoderRejectsEmptyPayload(t *testing.T) {
	d := NewPCMDecoder()

	if _, err := d.Decode(nil); err == nil {
		t.Error("Decode should reject an empty payload")
	}
	if _, err := d.Decode([]byte{0x01}); err == nil {
		t.Error("Decode should reject a single stray byte")
	}
}

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

package engine

import (
	"strings"

	"github.com/lecternlabs/lectern-hub/internal/asr"
)

const (
	// minTranscriptChars is the minimum trimmed text length worth storing
	minTranscriptChars = 10

	// noSpeechRejectProb rejects a result whose overall no-speech
	// probability is at or above this, unless a segment is confident
	noSpeechRejectProb = 0.7

	// segmentSpeechProb is the per-segment confidence that rescues a
	// result with a high overall no-speech probability
	segmentSpeechProb = 0.8

	// repetitionMinTokens is the token count above which the repetition
	// check applies
	repetitionMinTokens = 5

	// repetitionMaxShare rejects a result whose most frequent token makes
	// up more than this share of all tokens; near-total repetition is a
	// decoding artifact, not speech
	repetitionMaxShare = 0.6
)

// AcceptTranscript applies the acceptance filter to a recognition result.
// It returns whether the result should be stored and, when rejected, the
// reason label for logging.
func AcceptTranscript(res *asr.Result) (bool, string) {
	text := strings.TrimSpace(res.Text)
	if len(text) <= minTranscriptChars {
		return false, "too_short"
	}

	if res.NoSpeechProb >= noSpeechRejectProb {
		confident := false
		for _, seg := range res.Segments {
			if seg.NoSpeechProb < segmentSpeechProb {
				confident = true
				break
			}
		}
		if !confident {
			return false, "no_speech"
		}
	}

	tokens := strings.Fields(text)
	if len(tokens) > repetitionMinTokens {
		counts := make(map[string]int, len(tokens))
		top := 0
		for _, tok := range tokens {
			counts[tok]++
			if counts[tok] > top {
				top = counts[tok]
			}
		}
		if float64(top)/float64(len(tokens)) > repetitionMaxShare {
			return false, "repetition"
		}
	}

	return true, ""
}

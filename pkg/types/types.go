// Package types defines the shared types used across charactercall packages.
//
// Only cross-cutting values live here; each package defines its own domain
// types to keep the import graph acyclic.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownVoice is returned when a voice name is not one of the supported
// character voices.
var ErrUnknownVoice = errors.New("types: unknown voice")

// Voice identifies one of the fixed character voices offered by the speech
// synthesis backend.
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceOnyx    Voice = "onyx"
	VoiceNova    Voice = "nova"
	VoiceShimmer Voice = "shimmer"
)

// DefaultVoice is used when no voice was selected for a character.
const DefaultVoice = VoiceOnyx

// Voices returns every supported voice in a stable order.
func Voices() []Voice {
	return []Voice{VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer}
}

// IsValid reports whether v is a supported voice.
func (v Voice) IsValid() bool {
	switch v {
	case VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer:
		return true
	}
	return false
}

// Validate returns an error wrapping [ErrUnknownVoice] when v is not supported.
func (v Voice) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("%w %q", ErrUnknownVoice, string(v))
	}
	return nil
}

// String returns the provider-facing voice name.
func (v Voice) String() string { return string(v) }

// ParseVoice converts s into a [Voice]. Surrounding whitespace, quotes, and
// trailing punctuation are ignored and matching is case-insensitive.
func ParseVoice(s string) (Voice, error) {
	name := strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'.!,`))
	v := Voice(name)
	if err := v.Validate(); err != nil {
		return "", err
	}
	return v, nil
}

// FindVoice scans free text for the first mention of a supported voice name
// and returns it. It is used to interpret language model answers that wrap
// the voice name in prose.
func FindVoice(text string) (Voice, bool) {
	best := -1
	var found Voice
	lower := strings.ToLower(text)
	for _, v := range Voices() {
		idx := indexWord(lower, string(v))
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
			found = v
		}
	}
	return found, best >= 0
}

// indexWord returns the byte offset of the first occurrence of word in s that
// is not part of a longer word, or -1.
func indexWord(s, word string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], word)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(word)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return start
		}
		offset = end
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// Package tts defines the Provider interface for the text-to-speech engines
// that voice the assistant's replies.
//
// A provider turns one reply text into a complete [audio.Reply]: mono float32
// samples at the provider's native rate. Playback starts only once the whole
// reply is available so that the interrupt arbiter has the full reference
// signal from the first played chunk onwards.
package tts

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Provider is the abstraction over any TTS backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Synthesize renders text in voice. The returned reply carries Text set
	// to the input.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Reply, error)

	// ListVoices returns the voices the backend offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// SplitSentences breaks text at sentence terminators (., ! or ?) that are
// followed by whitespace or the end of the text. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := sentenceBoundary(rest)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(rest[:idx+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[idx+1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

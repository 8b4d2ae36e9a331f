// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one finalized [audio.Utterance] into text. Providers
// are invoked from a background task per utterance and may take seconds; the
// caller bounds each call with a context deadline.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// ErrNoSpeech is returned when the provider recognised no words in the
// utterance. Callers treat it like any other transcription failure.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts u to text. It returns [ErrNoSpeech] (possibly
	// wrapped) when the audio held no recognisable words.
	Transcribe(ctx context.Context, u *audio.Utterance) (Transcript, error)
}

// PrepareSamples returns u's audio as mono float32 at rate, peak-normalised
// when normalize is set. A non-positive rate keeps the capture rate.
func PrepareSamples(u *audio.Utterance, rate int, normalize bool) []float32 {
	samples := u.Mono()
	if rate > 0 {
		samples = audio.Resample(samples, u.SampleRate, rate)
	}
	if normalize {
		samples = audio.Normalize(samples)
	}
	return samples
}

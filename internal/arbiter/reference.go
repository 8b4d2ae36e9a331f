package arbiter

import (
	"time"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Reference describes the reply being played, used to tell its echo apart
// from the user's voice. Every field is optional; a nil *Reference means no
// reference is available and decisions fall back to absolute energy.
type Reference struct {
	// Energy is the mean RMS of the whole reply.
	Energy float64

	// Profile holds one RMS value per ProfileWindow of playback. When set,
	// the energy at the current playback offset is used instead of Energy.
	Profile       []float64
	ProfileWindow time.Duration

	// Samples is the mono reply waveform at SampleRate, used for spectral
	// comparison and the adaptive strategy.
	Samples    []float32
	SampleRate int

	// Resampled waveform cache keyed by target rate.
	resampled map[int][]float32
}

// ReferenceFromReply builds a reference from a synthesized reply. A profile
// carried by the reply is used as-is; otherwise one is derived with window.
func ReferenceFromReply(r audio.Reply, window time.Duration) *Reference {
	profile, win := r.EnergyProfile(window)
	return &Reference{
		Energy:        r.Energy(),
		Profile:       profile,
		ProfileWindow: win,
		Samples:       r.Samples,
		SampleRate:    r.SampleRate,
	}
}

// EnergyAt returns the reference energy at playback offset at. Past the end
// of the profile the last entry applies.
func (r *Reference) EnergyAt(at time.Duration) float64 {
	if r == nil {
		return 0
	}
	if len(r.Profile) == 0 || r.ProfileWindow <= 0 {
		return r.Energy
	}
	idx := int(at / r.ProfileWindow)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.Profile) {
		idx = len(r.Profile) - 1
	}
	return r.Profile[idx]
}

// HasWaveform reports whether r carries reply samples.
func (r *Reference) HasWaveform() bool {
	return r != nil && len(r.Samples) > 0 && r.SampleRate > 0
}

// waveform returns the reference samples resampled to rate.
func (r *Reference) waveform(rate int) []float32 {
	if rate == r.SampleRate {
		return r.Samples
	}
	if w, ok := r.resampled[rate]; ok {
		return w
	}
	if r.resampled == nil {
		r.resampled = make(map[int][]float32)
	}
	w := audio.Resample(r.Samples, r.SampleRate, rate)
	r.resampled[rate] = w
	return w
}

// Segment returns n reference samples at rate starting at playback offset
// at, zero-padded past the end of the reply.
func (r *Reference) Segment(at time.Duration, rate, n int) []float32 {
	out := make([]float32, n)
	if !r.HasWaveform() || n <= 0 {
		return out
	}
	w := r.waveform(rate)
	start := audio.FramesFor(at, rate)
	if start < len(w) {
		copy(out, w[start:])
	}
	return out
}

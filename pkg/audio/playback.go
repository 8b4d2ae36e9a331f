package audio

import (
	"context"
	"time"
)

// Reply is a synthesized response ready for playback.
type Reply struct {
	// Text is the reply text that was synthesized. Informational only.
	Text string

	// Samples holds mono float32 audio in [-1, 1].
	Samples []float32

	// SampleRate of Samples in Hz.
	SampleRate int

	// Profile optionally carries the reply's energy envelope: one RMS value per
	// ProfileWindow of audio. When nil, [Reply.EnergyProfile] derives it.
	Profile []float64

	// ProfileWindow is the window length each Profile entry covers.
	ProfileWindow time.Duration

	// Hangup marks the reply as the last one of the session.
	Hangup bool
}

// Duration returns the playback length of r.
func (r Reply) Duration() time.Duration {
	return FramesDuration(len(r.Samples), r.SampleRate)
}

// Energy returns the RMS of the whole reply.
func (r Reply) Energy() float64 {
	return RMS(r.Samples)
}

// EnergyProfile returns r.Profile when set, otherwise computes one RMS value
// per window of the reply audio. The returned window is the one actually used.
func (r Reply) EnergyProfile(window time.Duration) ([]float64, time.Duration) {
	if len(r.Profile) > 0 && r.ProfileWindow > 0 {
		return r.Profile, r.ProfileWindow
	}
	step := FramesFor(window, r.SampleRate)
	if step <= 0 || len(r.Samples) == 0 {
		return nil, window
	}
	profile := make([]float64, 0, len(r.Samples)/step+1)
	for off := 0; off < len(r.Samples); off += step {
		end := min(off+step, len(r.Samples))
		profile = append(profile, RMS(r.Samples[off:end]))
	}
	return profile, window
}

// PlaybackHandle controls one in-flight playback.
type PlaybackHandle interface {
	// Stop halts playback immediately without waiting for buffered audio to
	// drain. It must return promptly and is safe to call more than once.
	Stop() error

	// Done is closed when playback ends, naturally or via Stop.
	Done() <-chan struct{}

	// Err reports a playback failure after Done is closed. Stop is not a failure.
	Err() error
}

// Player starts playback of synthesized replies.
type Player interface {
	// Play begins playing reply and returns immediately.
	Play(ctx context.Context, reply Reply) (PlaybackHandle, error)

	// Close releases the output device.
	Close() error
}

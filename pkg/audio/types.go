package audio

import (
	"math"
	"time"
)

// Chunk is a fixed-length block of captured audio. Samples are interleaved
// float32 amplitudes in the range [-1.0, 1.0]. A Chunk is immutable once it
// leaves the capture callback; consumers must copy Samples before mutating.
type Chunk struct {
	// Samples holds interleaved amplitudes, Channels values per frame.
	Samples []float32

	// SampleRate in Hz (e.g., 44100, 48000, 16000).
	SampleRate int

	// Channels is the number of interleaved channels (1 for mono).
	Channels int

	// Seq is the capture sequence number. It increases monotonically for the
	// lifetime of a session, including across stream reopens.
	Seq uint64

	// Timestamp is the capture offset of the first sample relative to the
	// start of the session.
	Timestamp time.Duration
}

// Frames returns the number of sample frames (samples per channel) in c.
func (c Chunk) Frames() int {
	if c.Channels <= 1 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of c. Integer arithmetic keeps common
// block sizes exact (800 frames at 16 kHz is exactly 50ms).
func (c Chunk) Duration() time.Duration {
	return FramesDuration(c.Frames(), c.SampleRate)
}

// Energy returns the root-mean-square amplitude of c across all channels.
// An empty chunk yields 0. A chunk containing NaN samples yields NaN.
func (c Chunk) Energy() float64 {
	return RMS(c.Samples)
}

// FramesDuration converts a frame count at rate into a duration.
func FramesDuration(frames, rate int) time.Duration {
	if rate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// FramesFor returns the number of frames that cover d at rate.
func FramesFor(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}

// RMS returns the root-mean-square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Degenerate reports whether an energy value carries no usable signal: NaN,
// infinite, or exactly zero (a muted or disconnected device).
func Degenerate(energy float64) bool {
	return energy == 0 || math.IsNaN(energy) || math.IsInf(energy, 0)
}

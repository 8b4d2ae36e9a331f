// Package vad defines the Engine interface for voice activity detection.
//
// A VAD session classifies one audio chunk at a time as speech or non-speech.
// Sessions are adaptive: they observe the first chunks of a stream to learn
// the ambient noise floor and derive a detection threshold from it. The
// threshold is fixed once calibration completes and only changes again when
// the caller explicitly asks for recalibration.
//
// VAD is synchronous: IsSpeech returns immediately, making it suitable for the
// capture-consumer loop. A SessionHandle must not be shared across goroutines
// unless the implementation documents otherwise.
package vad

import "github.com/MrWong99/voxturn/pkg/audio"

// Config holds the parameters for a VAD session. Energies are RMS amplitudes
// of float32 samples in [-1, 1].
type Config struct {
	// EnergyThreshold is the static detection floor. The calibrated threshold
	// never drops below it. Typical: 0.01.
	EnergyThreshold float64

	// CalibrationChunks is the number of usable (finite, non-zero) chunk
	// energies collected before the noise floor is derived. Typical: 20.
	CalibrationChunks int

	// NoiseMultiplier scales the mean ambient energy into the noise floor.
	// Typical: 2.0.
	NoiseMultiplier float64
}

// Calibration is a snapshot of a session's calibration state.
type Calibration struct {
	// Calibrated is true once the threshold has been derived.
	Calibrated bool

	// Samples is the number of usable energies collected so far.
	Samples int

	// NoiseFloor is the derived ambient level, 0 before calibration.
	NoiseFloor float64

	// Threshold is the detection threshold currently in effect.
	Threshold float64
}

// SessionHandle is one adaptive detector bound to a single audio stream.
type SessionHandle interface {
	// Calibrate feeds one warm-up chunk to the noise estimator. It is a no-op
	// once the session is calibrated.
	Calibrate(chunk audio.Chunk)

	// Calibrated reports whether the detection threshold has been derived.
	Calibrated() bool

	// IsSpeech reports whether chunk carries speech and returns its energy.
	// Degenerate energies (NaN, infinite, zero) are never speech.
	IsSpeech(chunk audio.Chunk) (bool, float64)

	// Threshold returns the detection threshold currently in effect.
	Threshold() float64

	// State returns a snapshot of the calibration state.
	State() Calibration

	// Recalibrate discards the current calibration. Subsequent Calibrate calls
	// derive a new threshold; until then the static floor applies.
	Recalibrate()
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is out of range.
	NewSession(cfg Config) (SessionHandle, error)
}

// Package energy implements [vad.Engine] with an RMS energy detector whose
// threshold adapts to the ambient noise floor of each stream.
//
// A session starts on the static EnergyThreshold. The first CalibrationChunks
// usable chunk energies are averaged, multiplied by NoiseMultiplier, and the
// result becomes the noise floor. The working threshold is then
// max(EnergyThreshold, noiseFloor) until Recalibrate is called.
//
// A device that only ever yields degenerate energies would never complete
// calibration, so a session also gives up after observing
// giveUpFactor×CalibrationChunks chunks and calibrates on whatever usable
// samples it has (or on the static threshold alone).
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
)

const (
	defaultThreshold  = 0.01
	defaultChunks     = 20
	defaultMultiplier = 2.0
	giveUpFactor      = 3
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an [Engine].
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine]. Zero fields in cfg take their defaults
// (0.01, 20 chunks, 2.0×).
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.EnergyThreshold < 0 {
		return nil, fmt.Errorf("energy: energy threshold must be >= 0, got %v", cfg.EnergyThreshold)
	}
	if cfg.CalibrationChunks < 0 {
		return nil, fmt.Errorf("energy: calibration chunks must be >= 0, got %d", cfg.CalibrationChunks)
	}
	if cfg.NoiseMultiplier < 0 {
		return nil, fmt.Errorf("energy: noise multiplier must be >= 0, got %v", cfg.NoiseMultiplier)
	}
	if cfg.EnergyThreshold == 0 {
		cfg.EnergyThreshold = defaultThreshold
	}
	if cfg.CalibrationChunks == 0 {
		cfg.CalibrationChunks = defaultChunks
	}
	if cfg.NoiseMultiplier == 0 {
		cfg.NoiseMultiplier = defaultMultiplier
	}
	return NewSession(cfg), nil
}

// Session is an adaptive energy detector for one stream. It is safe for
// concurrent use so that health checks can read its state while the capture
// consumer drives it.
type Session struct {
	cfg vad.Config

	mu         sync.Mutex
	samples    []float64
	observed   int
	calibrated bool
	noiseFloor float64
	threshold  float64
}

// NewSession returns a session using cfg as-is. Prefer [Engine.NewSession],
// which applies defaults and validation.
func NewSession(cfg vad.Config) *Session {
	return &Session{
		cfg:       cfg,
		samples:   make([]float64, 0, cfg.CalibrationChunks),
		threshold: cfg.EnergyThreshold,
	}
}

// Calibrate implements [vad.SessionHandle].
func (s *Session) Calibrate(chunk audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calibrated {
		return
	}
	s.observed++
	if e := chunk.Energy(); !audio.Degenerate(e) {
		s.samples = append(s.samples, e)
	}
	if len(s.samples) >= s.cfg.CalibrationChunks || s.observed >= giveUpFactor*s.cfg.CalibrationChunks {
		s.finish()
	}
}

// finish derives the noise floor. Callers hold s.mu.
func (s *Session) finish() {
	if len(s.samples) > 0 {
		var sum float64
		for _, e := range s.samples {
			sum += e
		}
		s.noiseFloor = sum / float64(len(s.samples)) * s.cfg.NoiseMultiplier
	}
	s.threshold = max(s.cfg.EnergyThreshold, s.noiseFloor)
	s.calibrated = true
}

// Calibrated implements [vad.SessionHandle].
func (s *Session) Calibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrated
}

// IsSpeech implements [vad.SessionHandle].
func (s *Session) IsSpeech(chunk audio.Chunk) (bool, float64) {
	e := chunk.Energy()
	if audio.Degenerate(e) {
		return false, e
	}
	s.mu.Lock()
	th := s.threshold
	s.mu.Unlock()
	return e > th, e
}

// Threshold implements [vad.SessionHandle].
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// State implements [vad.SessionHandle].
func (s *Session) State() vad.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vad.Calibration{
		Calibrated: s.calibrated,
		Samples:    len(s.samples),
		NoiseFloor: s.noiseFloor,
		Threshold:  s.threshold,
	}
}

// Recalibrate implements [vad.SessionHandle].
func (s *Session) Recalibrate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
	s.observed = 0
	s.calibrated = false
	s.noiseFloor = 0
	s.threshold = s.cfg.EnergyThreshold
}

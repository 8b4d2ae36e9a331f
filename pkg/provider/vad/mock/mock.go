// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech decisions per chunk and inspect what the code
// under test fed to the detector.
//
// Example:
//
//	sess := &mock.Session{
//	    SpeechFunc: func(c audio.Chunk) bool { return c.Energy() > 0.1 },
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// By default a Session is calibrated after CalibrateAfter Calibrate calls
// (immediately when zero) and reports speech when SpeechFunc returns true.
type Session struct {
	mu sync.Mutex

	// SpeechFunc decides IsSpeech. When nil, chunks are never speech.
	SpeechFunc func(audio.Chunk) bool

	// CalibrateAfter is the number of Calibrate calls before Calibrated
	// reports true.
	CalibrateAfter int

	// ThresholdValue is returned by Threshold.
	ThresholdValue float64

	// --- Call records ---

	// CalibrateCalls counts Calibrate invocations since the last Recalibrate.
	CalibrateCalls int

	// IsSpeechCalls records the Seq of every chunk passed to IsSpeech.
	IsSpeechCalls []uint64

	// RecalibrateCallCount is the number of times Recalibrate was called.
	RecalibrateCallCount int
}

// Calibrate records the call.
func (s *Session) Calibrate(audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CalibrateCalls >= s.CalibrateAfter && s.CalibrateAfter > 0 {
		return
	}
	s.CalibrateCalls++
}

// Calibrated reports whether CalibrateAfter calls have been made.
func (s *Session) Calibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CalibrateCalls >= s.CalibrateAfter
}

// IsSpeech records the call and consults SpeechFunc.
func (s *Session) IsSpeech(c audio.Chunk) (bool, float64) {
	s.mu.Lock()
	s.IsSpeechCalls = append(s.IsSpeechCalls, c.Seq)
	fn := s.SpeechFunc
	s.mu.Unlock()
	e := c.Energy()
	if fn == nil {
		return false, e
	}
	return fn(c), e
}

// Threshold returns ThresholdValue.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ThresholdValue
}

// State returns a snapshot built from the recorded calls.
func (s *Session) State() vad.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vad.Calibration{
		Calibrated: s.CalibrateCalls >= s.CalibrateAfter,
		Samples:    s.CalibrateCalls,
		Threshold:  s.ThresholdValue,
	}
}

// Recalibrate records the call and resets the calibration counter.
func (s *Session) Recalibrate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecalibrateCallCount++
	s.CalibrateCalls = 0
}

// SpeechSeqs returns a copy of IsSpeechCalls. Thread-safe.
func (s *Session) SpeechSeqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.IsSpeechCalls...)
}

// RecalibrateCount returns RecalibrateCallCount. Thread-safe.
func (s *Session) RecalibrateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RecalibrateCallCount
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)

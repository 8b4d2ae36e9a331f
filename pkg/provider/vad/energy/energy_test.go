package energy_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
	"github.com/MrWong99/voxturn/pkg/provider/vad/energy"
)

// level returns a 50 ms mono chunk whose RMS energy equals v.
func level(v float32) audio.Chunk {
	s := make([]float32, 800)
	for i := range s {
		s[i] = v
	}
	return audio.Chunk{Samples: s, SampleRate: 16000, Channels: 1}
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sess
}

func TestNewSession_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"negative threshold", vad.Config{EnergyThreshold: -1}},
		{"negative chunks", vad.Config{CalibrationChunks: -1}},
		{"negative multiplier", vad.Config{NoiseMultiplier: -0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := energy.New().NewSession(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSession_DefaultsBeforeCalibration(t *testing.T) {
	sess := newSession(t, vad.Config{})
	if sess.Calibrated() {
		t.Fatal("fresh session must not be calibrated")
	}
	if got := sess.Threshold(); got != 0.01 {
		t.Errorf("Threshold = %v, want static 0.01", got)
	}
	if speech, _ := sess.IsSpeech(level(0.02)); !speech {
		t.Error("0.02 should be speech against the static threshold")
	}
}

func TestSession_CalibrationScenario(t *testing.T) {
	sess := newSession(t, vad.Config{EnergyThreshold: 0.01, CalibrationChunks: 20, NoiseMultiplier: 2})
	for i := range 20 {
		v := float32(0.025)
		if i%2 == 1 {
			v = 0.03
		}
		sess.Calibrate(level(v))
	}
	if !sess.Calibrated() {
		t.Fatal("session should be calibrated after 20 usable chunks")
	}
	th := sess.Threshold()
	if math.Abs(th-0.055) > 1e-6 {
		t.Fatalf("Threshold = %v, want 0.055", th)
	}

	if speech, e := sess.IsSpeech(level(0.04)); speech {
		t.Errorf("energy %v classified as speech", e)
	}
	if speech, e := sess.IsSpeech(level(0.08)); !speech {
		t.Errorf("energy %v not classified as speech", e)
	}
}

func TestSession_StaticFloorWins(t *testing.T) {
	sess := newSession(t, vad.Config{EnergyThreshold: 0.05, CalibrationChunks: 3})
	for range 3 {
		sess.Calibrate(level(0.001))
	}
	st := sess.State()
	if !st.Calibrated {
		t.Fatal("expected calibrated")
	}
	if st.Threshold != 0.05 {
		t.Errorf("Threshold = %v, want static floor 0.05", st.Threshold)
	}
	if math.Abs(st.NoiseFloor-0.002) > 1e-6 {
		t.Errorf("NoiseFloor = %v, want 0.002", st.NoiseFloor)
	}
}

func TestSession_SkipsDegenerateSamples(t *testing.T) {
	sess := newSession(t, vad.Config{CalibrationChunks: 2})
	sess.Calibrate(level(0))
	sess.Calibrate(level(float32(math.NaN())))
	sess.Calibrate(level(0.1))
	if sess.Calibrated() {
		t.Fatal("degenerate chunks must not count toward calibration")
	}
	if got := sess.State().Samples; got != 1 {
		t.Errorf("Samples = %d, want 1", got)
	}
	sess.Calibrate(level(0.1))
	if !sess.Calibrated() {
		t.Fatal("expected calibrated after two usable chunks")
	}
	if got := sess.Threshold(); math.Abs(got-0.2) > 1e-6 {
		t.Errorf("Threshold = %v, want 0.2", got)
	}
}

func TestSession_GivesUpOnDeadDevice(t *testing.T) {
	sess := newSession(t, vad.Config{EnergyThreshold: 0.01, CalibrationChunks: 2})
	for range 6 {
		sess.Calibrate(level(0))
	}
	if !sess.Calibrated() {
		t.Fatal("session should finish calibration after the give-up window")
	}
	if got := sess.Threshold(); got != 0.01 {
		t.Errorf("Threshold = %v, want static 0.01", got)
	}
}

func TestSession_CalibrateIsIdempotent(t *testing.T) {
	sess := newSession(t, vad.Config{CalibrationChunks: 2})
	sess.Calibrate(level(0.02))
	sess.Calibrate(level(0.02))
	before := sess.Threshold()
	for range 50 {
		sess.Calibrate(level(0.9))
	}
	if after := sess.Threshold(); after != before {
		t.Errorf("threshold changed after calibration: %v -> %v", before, after)
	}
}

func TestSession_Recalibrate(t *testing.T) {
	sess := newSession(t, vad.Config{CalibrationChunks: 1})
	sess.Calibrate(level(0.1))
	if got := sess.Threshold(); math.Abs(got-0.2) > 1e-6 {
		t.Fatalf("Threshold = %v, want 0.2", got)
	}
	sess.Recalibrate()
	if sess.Calibrated() {
		t.Fatal("Recalibrate must clear the calibrated flag")
	}
	if got := sess.Threshold(); got != 0.01 {
		t.Errorf("Threshold after Recalibrate = %v, want 0.01", got)
	}
	sess.Calibrate(level(0.02))
	if got := sess.Threshold(); math.Abs(got-0.04) > 1e-6 {
		t.Errorf("Threshold = %v, want 0.04", got)
	}
}

func TestSession_DegenerateIsNeverSpeech(t *testing.T) {
	sess := newSession(t, vad.Config{})
	for _, v := range []float32{0, float32(math.NaN()), float32(math.Inf(1))} {
		if speech, _ := sess.IsSpeech(level(v)); speech {
			t.Errorf("level %v classified as speech", v)
		}
	}
}

package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestFloatToPCM16_Clamping(t *testing.T) {
	pcm := audio.FloatToPCM16([]float32{0, 1, -1, 2, -2, float32(math.NaN())})
	want := []int16{0, 32767, -32767, 32767, -32768, 0}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestPCM16ToFloat(t *testing.T) {
	got := audio.PCM16ToFloat(append(samplesToBytes([]int16{0, 16384, -32768}), 0x01))
	want := []float32{0, 0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmixMono(t *testing.T) {
	got := audio.DownmixMono([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}

	mono := []float32{0.1, 0.2}
	if out := audio.DownmixMono(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		src     int
		dst     int
		wantLen int
	}{
		{"same rate", 480, 48000, 48000, 480},
		{"downsample 3x", 480, 48000, 16000, 160},
		{"upsample 2x", 160, 8000, 16000, 320},
		{"invalid rate", 10, 0, 16000, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]float32, tc.in)
			for i := range in {
				in[i] = 0.5
			}
			out := audio.Resample(in, tc.src, tc.dst)
			if len(out) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(out), tc.wantLen)
			}
			for i, s := range out {
				if s != 0.5 {
					t.Fatalf("sample %d = %v, want 0.5 for constant input", i, s)
				}
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got := audio.Normalize([]float32{0.1, -0.25, 0.05})
	want := []float32{0.4, -1, 0.2}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}

	silent := audio.Normalize([]float32{0, 0})
	if silent[0] != 0 || silent[1] != 0 {
		t.Errorf("silent input changed: %v", silent)
	}
}

func TestChunkDurationAndEnergy(t *testing.T) {
	samples := make([]float32, 800)
	for i := range samples {
		samples[i] = -0.25
	}
	c := audio.Chunk{Samples: samples, SampleRate: 16000, Channels: 1}
	if got := c.Duration(); got != 50*time.Millisecond {
		t.Errorf("Duration = %v, want 50ms", got)
	}
	if got := c.Energy(); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Energy = %v, want 0.25", got)
	}

	stereo := audio.Chunk{Samples: make([]float32, 1600), SampleRate: 16000, Channels: 2}
	if got := stereo.Duration(); got != 50*time.Millisecond {
		t.Errorf("stereo Duration = %v, want 50ms", got)
	}
}

func TestDegenerate(t *testing.T) {
	tests := []struct {
		energy float64
		want   bool
	}{
		{0, true},
		{math.NaN(), true},
		{math.Inf(1), true},
		{0.001, false},
	}
	for _, tc := range tests {
		if got := audio.Degenerate(tc.energy); got != tc.want {
			t.Errorf("Degenerate(%v) = %v, want %v", tc.energy, got, tc.want)
		}
	}
}

func TestReplyEnergyProfile(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range 800 {
		samples[i] = 0.5
	}
	r := audio.Reply{Samples: samples, SampleRate: 16000}
	profile, window := r.EnergyProfile(50 * time.Millisecond)
	if window != 50*time.Millisecond {
		t.Errorf("window = %v, want 50ms", window)
	}
	if len(profile) != 2 {
		t.Fatalf("len(profile) = %d, want 2", len(profile))
	}
	if math.Abs(profile[0]-0.5) > 1e-9 || profile[1] != 0 {
		t.Errorf("profile = %v, want [0.5 0]", profile)
	}

	preset := audio.Reply{Profile: []float64{1, 2}, ProfileWindow: time.Second}
	p, w := preset.EnergyProfile(50 * time.Millisecond)
	if len(p) != 2 || w != time.Second {
		t.Errorf("explicit profile not honoured: %v %v", p, w)
	}
}

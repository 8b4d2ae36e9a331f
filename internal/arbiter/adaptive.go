package arbiter

import "github.com/MrWong99/voxturn/pkg/audio"

const (
	adaptiveTaps = 128
	adaptiveStep = 0.5
	adaptiveEps  = 1e-6
)

// adaptiveStrategy models the echo path with a normalized LMS filter over the
// reference waveform. Whatever the filter cannot explain is treated as the
// user's voice. This is a rough estimator, not a full echo canceller.
type adaptiveStrategy struct {
	cfg     Config
	weights []float64
}

func newAdaptive(cfg Config) *adaptiveStrategy {
	return &adaptiveStrategy{cfg: cfg, weights: make([]float64, adaptiveTaps)}
}

func (s *adaptiveStrategy) Name() StrategyName { return StrategyAdaptive }

func (s *adaptiveStrategy) Start(*Reference) {
	clear(s.weights)
}

func (s *adaptiveStrategy) Decide(in Input) Decision {
	if !in.Ref.HasWaveform() {
		return absolute(s.cfg, in.Energy)
	}
	rate := in.Chunk.SampleRate
	x := in.Ref.waveform(rate)
	pos := audio.FramesFor(in.Offset, rate)

	residual := make([]float32, len(in.Mono))
	for i, mic := range in.Mono {
		p := pos + i
		var est, norm float64
		for k, w := range s.weights {
			j := p - k
			if j < 0 || j >= len(x) {
				continue
			}
			xj := float64(x[j])
			est += w * xj
			norm += xj * xj
		}
		e := float64(mic) - est
		residual[i] = float32(e)
		if norm == 0 {
			continue
		}
		g := adaptiveStep * e / (adaptiveEps + norm)
		for k := range s.weights {
			j := p - k
			if j < 0 || j >= len(x) {
				continue
			}
			s.weights[k] += g * float64(x[j])
		}
	}

	resE := audio.RMS(residual)
	return Decision{
		Interrupt:  resE >= s.cfg.EnergyThreshold,
		Confidence: distance(resE, s.cfg.EnergyThreshold),
		Energy:     in.Energy,
		Residual:   resE,
		Reason:     ReasonResidual,
	}
}

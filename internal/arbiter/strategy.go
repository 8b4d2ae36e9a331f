package arbiter

import (
	"time"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// StrategyName selects an echo [Strategy].
type StrategyName string

const (
	// StrategyRatio compares energy against the reference and falls back to
	// spectral similarity for ambiguous ratios.
	StrategyRatio StrategyName = "ratio"

	// StrategyMute treats all audio during playback as echo. The microphone
	// is effectively muted until the reply ends.
	StrategyMute StrategyName = "mute"

	// StrategyAdaptive subtracts an NLMS estimate of the echo and decides on
	// the residual energy.
	StrategyAdaptive StrategyName = "adaptive"
)

// IsValid reports whether n names a known strategy.
func (n StrategyName) IsValid() bool {
	switch n {
	case StrategyRatio, StrategyMute, StrategyAdaptive:
		return true
	}
	return false
}

// Input is what a [Strategy] sees for one chunk that survived the cooldown and
// the energy floor.
type Input struct {
	Chunk  audio.Chunk
	Mono   []float32
	Energy float64

	// Offset is the playback position the chunk's first sample lines up with.
	Offset time.Duration

	// Ref is the reply reference, or nil.
	Ref *Reference
}

// Strategy decides echo versus interrupt for chunks that are loud enough to
// matter. Implementations are driven from a single goroutine.
type Strategy interface {
	Name() StrategyName

	// Start is called at the beginning of every playback.
	Start(ref *Reference)

	// Decide classifies one chunk.
	Decide(in Input) Decision
}

// newStrategy constructs the strategy selected by cfg.
func newStrategy(cfg Config) Strategy {
	switch cfg.Strategy {
	case StrategyMute:
		return muteStrategy{}
	case StrategyAdaptive:
		return newAdaptive(cfg)
	default:
		return &ratioStrategy{cfg: cfg}
	}
}

// absolute decides on energy alone when no reference is usable.
func absolute(cfg Config, energy float64) Decision {
	return Decision{
		Interrupt:  true,
		Confidence: distance(energy, cfg.EnergyThreshold),
		Energy:     energy,
		Reason:     ReasonAbsoluteEnergy,
	}
}

// distance is the normalized distance of v from threshold, clamped to [0, 1].
func distance(v, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	d := (v - threshold) / threshold
	if d < 0 {
		d = -d
	}
	return min(d, 1)
}

// ─── ratio ───────────────────────────────────────────────────────────────────

type ratioStrategy struct {
	cfg     Config
	spectra spectra
}

func (s *ratioStrategy) Name() StrategyName { return StrategyRatio }

func (s *ratioStrategy) Start(*Reference) {}

func (s *ratioStrategy) Decide(in Input) Decision {
	refE := in.Ref.EnergyAt(in.Offset)
	if in.Ref == nil || audio.Degenerate(refE) {
		return absolute(s.cfg, in.Energy)
	}

	d := Decision{Energy: in.Energy, Reference: refE}
	ratio := in.Energy / refE
	switch {
	case ratio >= s.cfg.UserRatio:
		d.Interrupt = true
		d.Confidence = distance(ratio, s.cfg.UserRatio)
		d.Reason = ReasonUserDominates
		return d
	case ratio <= s.cfg.EchoRatio:
		d.Confidence = distance(ratio, s.cfg.EchoRatio)
		d.Reason = ReasonEchoLevel
		return d
	}

	if !in.Ref.HasWaveform() {
		d.Interrupt = in.Energy >= s.cfg.FallbackEnergy
		d.Confidence = distance(in.Energy, s.cfg.FallbackEnergy)
		d.Reason = ReasonFallbackEnergy
		return d
	}

	ref := in.Ref.Segment(in.Offset, in.Chunk.SampleRate, len(in.Mono))
	sim := cosineSimilarity(s.spectra.magnitude(in.Mono), s.spectra.magnitude(ref))
	d.Similarity = sim
	if sim >= s.cfg.SimilarityThreshold {
		d.Reason = ReasonSpectralMatch
	} else {
		d.Interrupt = true
		d.Reason = ReasonSpectralMismatch
	}
	d.Confidence = distance(sim, s.cfg.SimilarityThreshold)
	return d
}

// ─── mute ────────────────────────────────────────────────────────────────────

type muteStrategy struct{}

func (muteStrategy) Name() StrategyName { return StrategyMute }

func (muteStrategy) Start(*Reference) {}

func (muteStrategy) Decide(in Input) Decision {
	return Decision{Confidence: 1, Energy: in.Energy, Reason: ReasonMuted}
}

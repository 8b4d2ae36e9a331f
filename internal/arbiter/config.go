package arbiter

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for [Config] fields left at zero.
const (
	DefaultCooldown            = 500 * time.Millisecond
	DefaultEnergyThreshold     = 0.05
	DefaultUserRatio           = 1.5
	DefaultEchoRatio           = 0.7
	DefaultSimilarityThreshold = 0.7
	DefaultFallbackEnergy      = 0.08
	DefaultProfileWindow       = 50 * time.Millisecond
)

// Sensitivity names a bundle of interrupt thresholds.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// IsValid reports whether s is a known sensitivity.
func (s Sensitivity) IsValid() bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// Preset holds the thresholds a [Sensitivity] selects.
type Preset struct {
	SimilarityThreshold float64
	EnergyThreshold     float64
	Cooldown            time.Duration
}

var presets = map[Sensitivity]Preset{
	SensitivityLow:    {SimilarityThreshold: 0.8, EnergyThreshold: 0.08, Cooldown: 800 * time.Millisecond},
	SensitivityMedium: {SimilarityThreshold: 0.7, EnergyThreshold: 0.05, Cooldown: 500 * time.Millisecond},
	SensitivityHigh:   {SimilarityThreshold: 0.6, EnergyThreshold: 0.03, Cooldown: 300 * time.Millisecond},
}

// PresetFor returns the thresholds of s.
func PresetFor(s Sensitivity) (Preset, error) {
	p, ok := presets[s]
	if !ok {
		return Preset{}, fmt.Errorf("arbiter: unknown sensitivity %q", s)
	}
	return p, nil
}

// Config holds the interrupt decision parameters. Energies are RMS amplitudes
// of float32 samples in [-1, 1].
type Config struct {
	// Strategy selects the echo strategy. Default: StrategyRatio.
	Strategy StrategyName

	// Sensitivity, when set, fills SimilarityThreshold, EnergyThreshold, and
	// Cooldown from its preset wherever those fields are zero.
	Sensitivity Sensitivity

	// Cooldown after playback start during which every chunk is echo.
	Cooldown time.Duration

	// EnergyThreshold is the floor below which a chunk is too quiet to be a
	// deliberate interruption. Independent of the VAD threshold.
	EnergyThreshold float64

	// UserRatio is the incoming/reference energy ratio at or above which the
	// user's voice dominates.
	UserRatio float64

	// EchoRatio is the ratio at or below which the chunk is the system's own
	// echo. Must be lower than UserRatio.
	EchoRatio float64

	// SimilarityThreshold is the spectral cosine similarity at or above which
	// an ambiguous chunk is classified as echo.
	SimilarityThreshold float64

	// FallbackEnergy decides ambiguous chunks when no reference waveform is
	// available for a spectral comparison.
	FallbackEnergy float64

	// Sustain is how long consecutive interrupt-classified audio must last
	// before [Arbiter.Observe] reports an actionable interrupt. Zero acts on
	// the first interrupt chunk.
	Sustain time.Duration

	// ProfileWindow is the window used to derive a reply energy profile when
	// the reply does not carry one.
	ProfileWindow time.Duration
}

// WithDefaults returns c with the sensitivity preset and then the package
// defaults applied to zero fields.
func (c Config) WithDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyRatio
	}
	if p, err := PresetFor(c.Sensitivity); err == nil {
		if c.SimilarityThreshold == 0 {
			c.SimilarityThreshold = p.SimilarityThreshold
		}
		if c.EnergyThreshold == 0 {
			c.EnergyThreshold = p.EnergyThreshold
		}
		if c.Cooldown == 0 {
			c.Cooldown = p.Cooldown
		}
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.EnergyThreshold == 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.UserRatio == 0 {
		c.UserRatio = DefaultUserRatio
	}
	if c.EchoRatio == 0 {
		c.EchoRatio = DefaultEchoRatio
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.FallbackEnergy == 0 {
		c.FallbackEnergy = DefaultFallbackEnergy
	}
	if c.ProfileWindow == 0 {
		c.ProfileWindow = DefaultProfileWindow
	}
	return c
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if !c.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("arbiter: unknown strategy %q", c.Strategy))
	}
	if c.Sensitivity != "" && !c.Sensitivity.IsValid() {
		errs = append(errs, fmt.Errorf("arbiter: unknown sensitivity %q", c.Sensitivity))
	}
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("arbiter: cooldown must be >= 0"))
	}
	if c.Sustain < 0 {
		errs = append(errs, errors.New("arbiter: sustain must be >= 0"))
	}
	if c.EnergyThreshold <= 0 {
		errs = append(errs, errors.New("arbiter: energy threshold must be > 0"))
	}
	if c.EchoRatio <= 0 || c.UserRatio <= 0 || c.EchoRatio >= c.UserRatio {
		errs = append(errs, fmt.Errorf("arbiter: echo ratio %v must be positive and below user ratio %v", c.EchoRatio, c.UserRatio))
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("arbiter: similarity threshold %v must be in (0, 1)", c.SimilarityThreshold))
	}
	return errors.Join(errs...)
}

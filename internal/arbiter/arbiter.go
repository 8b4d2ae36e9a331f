// Package arbiter decides, chunk by chunk, whether microphone audio captured
// during playback is the system's own echo or a user interruption.
//
// The decision runs in a fixed order. Within the cooldown after playback
// starts, every chunk is echo. After that, chunks below the interrupt energy
// floor are echo. Anything louder is handed to the configured [Strategy],
// which compares it against the reply being played. Without a reference the
// energy floor alone decides.
//
// Confidence is the normalized distance from whichever threshold made the
// decision. It is informational and never gates the binary verdict.
package arbiter

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Reason names the rule that produced a [Decision].
type Reason string

const (
	ReasonIdle             Reason = "idle"
	ReasonCooldown         Reason = "cooldown"
	ReasonBelowEnergy      Reason = "below_energy"
	ReasonAbsoluteEnergy   Reason = "absolute_energy"
	ReasonUserDominates    Reason = "user_dominates"
	ReasonEchoLevel        Reason = "echo_level"
	ReasonSpectralMatch    Reason = "spectral_match"
	ReasonSpectralMismatch Reason = "spectral_mismatch"
	ReasonFallbackEnergy   Reason = "fallback_energy"
	ReasonMuted            Reason = "muted"
	ReasonResidual         Reason = "residual"
)

// Decision is the verdict for one chunk.
type Decision struct {
	// Interrupt is true when the chunk is a user interruption.
	Interrupt bool

	// Confidence in [0, 1].
	Confidence float64

	// Energy of the chunk.
	Energy float64

	// Reference is the reference energy compared against, if any.
	Reference float64

	// Similarity is the spectral similarity, when it was computed.
	Similarity float64

	// Residual is the post-filter energy of the adaptive strategy.
	Residual float64

	// Elapsed is the time since playback started.
	Elapsed time.Duration

	// Reason is the rule that decided.
	Reason Reason
}

// Option is a functional option for [New].
type Option func(*Arbiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// Arbiter classifies chunks while a reply plays. It is safe for concurrent
// use: playback start and stop may come from a different goroutine than the
// one classifying chunks.
type Arbiter struct {
	cfg      Config
	strategy Strategy
	now      func() time.Time

	mu        sync.Mutex
	active    bool
	started   time.Time
	ref       *Reference
	sustained time.Duration
	last      Decision
}

// New returns an Arbiter for cfg after applying defaults and validation.
func New(cfg Config, opts ...Option) (*Arbiter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Arbiter{cfg: cfg, strategy: newStrategy(cfg), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Config returns the effective configuration.
func (a *Arbiter) Config() Config { return a.cfg }

// Strategy returns the name of the active strategy.
func (a *Arbiter) Strategy() StrategyName { return a.strategy.Name() }

// OnPlaybackStart marks the beginning of a reply. ref may be nil.
func (a *Arbiter) OnPlaybackStart(ref *Reference) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
	a.started = a.now()
	a.ref = ref
	a.sustained = 0
	a.last = Decision{}
	a.strategy.Start(ref)
}

// OnPlaybackStop marks the end of the reply, natural or interrupted.
func (a *Arbiter) OnPlaybackStop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.ref = nil
	a.sustained = 0
}

// Active reports whether a reply is currently playing.
func (a *Arbiter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Last returns the most recent decision.
func (a *Arbiter) Last() Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Classify returns the verdict for chunk. Outside playback every chunk is
// echo with reason idle.
func (a *Arbiter) Classify(chunk audio.Chunk) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.classify(chunk)
	a.last = d
	return d
}

// Observe classifies chunk and applies the sustain requirement: the returned
// decision only reports Interrupt once consecutive interrupt chunks have
// covered Config.Sustain. Any echo chunk restarts the count.
func (a *Arbiter) Observe(chunk audio.Chunk) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.classify(chunk)
	if d.Interrupt {
		a.sustained += chunk.Duration()
		if a.sustained < a.cfg.Sustain {
			d.Interrupt = false
		}
	} else {
		a.sustained = 0
	}
	a.last = d
	return d
}

func (a *Arbiter) classify(chunk audio.Chunk) Decision {
	energy := chunk.Energy()
	if !a.active {
		return Decision{Energy: energy, Confidence: 1, Reason: ReasonIdle}
	}
	elapsed := a.now().Sub(a.started)

	if elapsed < a.cfg.Cooldown {
		return Decision{
			Energy:     energy,
			Elapsed:    elapsed,
			Confidence: distance(float64(elapsed), float64(a.cfg.Cooldown)),
			Reason:     ReasonCooldown,
		}
	}
	if audio.Degenerate(energy) || energy < a.cfg.EnergyThreshold {
		conf := 1.0
		if !audio.Degenerate(energy) {
			conf = distance(energy, a.cfg.EnergyThreshold)
		}
		return Decision{Energy: energy, Elapsed: elapsed, Confidence: conf, Reason: ReasonBelowEnergy}
	}

	offset := max(elapsed-chunk.Duration(), 0)
	d := a.strategy.Decide(Input{
		Chunk:  chunk,
		Mono:   audio.DownmixMono(chunk.Samples, chunk.Channels),
		Energy: energy,
		Offset: offset,
		Ref:    a.ref,
	})
	d.Elapsed = elapsed
	return d
}

// String renders d for debug logs.
func (d Decision) String() string {
	verdict := "echo"
	if d.Interrupt {
		verdict = "interrupt"
	}
	return fmt.Sprintf("%s(%s conf=%.2f energy=%.4f)", verdict, d.Reason, d.Confidence, d.Energy)
}

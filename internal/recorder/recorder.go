// Package recorder turns a continuous chunk stream into discrete utterances.
//
// A [Recorder] is a small state machine driven one chunk at a time:
//
//	IDLE ──speech──▶ ARMED ──next chunk──▶ ACTIVE ──silence or cap──▶ FINALIZING ──▶ IDLE
//
// A short pre-roll ring of recent chunks is kept at all times so the first
// word of an utterance is not clipped. Durations are accumulated from chunk
// lengths rather than wall-clock time, which keeps the recorder deterministic
// and independent of capture timestamps.
//
// A Recorder is not safe for concurrent use; it belongs to the capture
// consumer goroutine.
package recorder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// State is the recorder's position in the utterance state machine.
type State int

const (
	// StateIdle waits for speech onset.
	StateIdle State = iota

	// StateArmed has just seen speech onset.
	StateArmed

	// StateActive is accumulating an utterance.
	StateActive

	// StateFinalizing is closing the current utterance. It is only observable
	// through the transition hook; Process always returns in StateIdle once an
	// utterance has been emitted or discarded.
	StateFinalizing
)

// String returns the upper-case state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateActive:
		return "ACTIVE"
	case StateFinalizing:
		return "FINALIZING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults for [Config] fields left at zero.
const (
	DefaultSilenceDuration      = 1200 * time.Millisecond
	DefaultMinSpeechDuration    = 500 * time.Millisecond
	DefaultMaxRecordingDuration = 30 * time.Second
	DefaultPreRoll              = 500 * time.Millisecond
)

// Config holds the utterance boundary parameters.
type Config struct {
	// SilenceDuration of trailing non-speech that closes an utterance.
	SilenceDuration time.Duration

	// MinSpeechDuration is the shortest speech span that is emitted. Shorter
	// attempts are discarded as noise.
	MinSpeechDuration time.Duration

	// MaxRecordingDuration caps the time from onset. The utterance is
	// emitted when the cap is reached, even mid-word.
	MaxRecordingDuration time.Duration

	// PreRoll is how much audio before onset is prepended to each utterance.
	// A negative value disables the pre-roll.
	PreRoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.MaxRecordingDuration <= 0 {
		c.MaxRecordingDuration = DefaultMaxRecordingDuration
	}
	if c.PreRoll == 0 {
		c.PreRoll = DefaultPreRoll
	}
	return c
}

// Detector classifies a chunk as speech. vad.SessionHandle satisfies it.
type Detector interface {
	IsSpeech(chunk audio.Chunk) (bool, float64)
}

// Option is a functional option for [New].
type Option func(*Recorder)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(r *Recorder) { r.onTransition = fn }
}

// WithDiscardHook registers fn to be called when an attempt is dropped for
// being shorter than MinSpeechDuration. speech is the span that was heard.
func WithDiscardHook(fn func(speech time.Duration)) Option {
	return func(r *Recorder) { r.onDiscard = fn }
}

// Recorder detects utterance boundaries in a chunk stream.
type Recorder struct {
	cfg Config
	det Detector

	state State

	// Pre-roll ring, oldest first, and its total duration.
	ring    []audio.Chunk
	ringDur time.Duration

	// Current utterance.
	preRoll []audio.Chunk
	chunks  []audio.Chunk
	onset   time.Duration
	elapsed time.Duration
	span    time.Duration

	onTransition func(from, to State)
	onDiscard    func(time.Duration)
}

// New returns an idle Recorder. Zero fields in cfg take their defaults.
func New(cfg Config, det Detector, opts ...Option) *Recorder {
	r := &Recorder{cfg: cfg.withDefaults(), det: det}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config { return r.cfg }

// State returns the current state.
func (r *Recorder) State() State { return r.state }

// Process feeds one chunk through the state machine. It returns the finished
// utterance and true when chunk completed one.
func (r *Recorder) Process(chunk audio.Chunk) (*audio.Utterance, bool) {
	speech, _ := r.det.IsSpeech(chunk)
	defer r.remember(chunk)

	switch r.state {
	case StateIdle:
		if !speech {
			return nil, false
		}
		r.preRoll = append([]audio.Chunk(nil), r.ring...)
		r.chunks = r.chunks[:0]
		r.onset = chunk.Timestamp
		r.elapsed, r.span = 0, 0
		r.transition(StateArmed)
	case StateArmed:
		r.transition(StateActive)
	}

	d := chunk.Duration()
	r.chunks = append(r.chunks, chunk)
	r.elapsed += d
	if speech {
		r.span = r.elapsed
	}

	switch {
	case r.elapsed-r.span >= r.cfg.SilenceDuration:
		return r.finalize(audio.ReasonSilence)
	case r.elapsed >= r.cfg.MaxRecordingDuration:
		return r.finalize(audio.ReasonMaxDuration)
	}
	return nil, false
}

// Prime adds chunk to the pre-roll ring without running detection. Use it for
// audio that must not start an utterance but should still lead the next one.
// Outside IDLE it is a no-op.
func (r *Recorder) Prime(chunk audio.Chunk) {
	if r.state != StateIdle {
		return
	}
	r.remember(chunk)
}

// Reset abandons any utterance in progress and clears the pre-roll ring.
func (r *Recorder) Reset() {
	r.clear()
	r.ring = r.ring[:0]
	r.ringDur = 0
	if r.state != StateIdle {
		r.transition(StateIdle)
	}
}

func (r *Recorder) finalize(reason audio.FinalizeReason) (*audio.Utterance, bool) {
	r.transition(StateFinalizing)
	defer func() {
		r.clear()
		r.transition(StateIdle)
	}()

	if r.span < r.cfg.MinSpeechDuration {
		slog.Debug("utterance discarded", "speech", r.span, "reason", reason)
		if r.onDiscard != nil {
			r.onDiscard(r.span)
		}
		return nil, false
	}
	return r.build(reason), true
}

// build assembles the emitted audio: pre-roll, then the speech span capped at
// MaxRecordingDuration. Trailing silence is trimmed.
func (r *Recorder) build(reason audio.FinalizeReason) *audio.Utterance {
	first := r.chunks[0]
	rate, channels := first.SampleRate, max(first.Channels, 1)

	pre := audio.Concat(r.preRoll)
	span := min(r.span, r.cfg.MaxRecordingDuration)
	body := audio.Concat(r.chunks)
	if n := audio.FramesFor(span, rate) * channels; n < len(body) {
		body = body[:n]
	}

	samples := make([]float32, 0, len(pre)+len(body))
	samples = append(samples, pre...)
	samples = append(samples, body...)

	u := &audio.Utterance{
		Samples:    samples,
		SampleRate: rate,
		Channels:   channels,
		Onset:      r.onset,
		Duration:   span,
		PreRoll:    audio.FramesDuration(len(pre)/channels, rate),
		Reason:     reason,
		FirstSeq:   first.Seq,
		LastSeq:    r.chunks[len(r.chunks)-1].Seq,
	}
	if len(r.preRoll) > 0 {
		u.FirstSeq = r.preRoll[0].Seq
	}
	return u
}

func (r *Recorder) clear() {
	r.preRoll = nil
	r.chunks = r.chunks[:0]
	r.elapsed, r.span = 0, 0
}

// remember pushes chunk into the pre-roll ring, evicting the oldest chunks
// beyond the configured pre-roll length.
func (r *Recorder) remember(chunk audio.Chunk) {
	if r.cfg.PreRoll <= 0 {
		return
	}
	r.ring = append(r.ring, chunk)
	r.ringDur += chunk.Duration()
	for len(r.ring) > 0 && r.ringDur > r.cfg.PreRoll {
		r.ringDur -= r.ring[0].Duration()
		r.ring = r.ring[1:]
	}
}

func (r *Recorder) transition(to State) {
	from := r.state
	r.state = to
	if r.onTransition != nil && from != to {
		r.onTransition(from, to)
	}
}

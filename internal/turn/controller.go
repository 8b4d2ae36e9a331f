// Package turn binds capture, detection, recording, transcription, reply
// generation and playback into one conversation loop.
//
// The [Controller] owns the conversation state and is its only writer. A
// single goroutine ([Controller.Run]) consumes capture chunks in order and
// routes each one by state: to the noise calibrator while the VAD warms up,
// to the utterance recorder while listening, and to the interrupt arbiter
// while a reply plays. Transcription and reply generation run as background
// tasks whose results come back over a channel, so the capture path never
// waits on the network.
//
//	LISTENING ─onset─▶ RECORDING ─utterance─▶ AWAITING_RESPONSE ─reply─▶ SPEAKING ─done─▶ LISTENING
//	                                                                     SPEAKING ─barge-in─▶ INTERRUPTED ─▶ LISTENING
//
// Only the newest utterance may produce a reply. Emitting a new utterance
// cancels the task of the previous one and any result it still delivers is
// discarded. A reply that arrives while the user is speaking again is held
// until the recorder is idle; it is dropped if that speech becomes an
// utterance of its own.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxturn/internal/arbiter"
	"github.com/MrWong99/voxturn/internal/capture"
	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/internal/recorder"
	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
)

// Defaults for [Config] fields left at zero.
const (
	DefaultTranscribeTimeout = 30 * time.Second
	DefaultRespondTimeout    = 60 * time.Second
	DefaultPostSpeechGap     = 300 * time.Millisecond
)

// Config holds the controller parameters.
type Config struct {
	// Recorder configures utterance boundaries.
	Recorder recorder.Config

	// TranscribeTimeout bounds one transcription call.
	TranscribeTimeout time.Duration

	// RespondTimeout bounds one reply generation, synthesis included.
	RespondTimeout time.Duration

	// PostSpeechGap is how long after a reply finishes playing the
	// microphone is treated as silence, so the reply's tail does not open an
	// utterance. A negative value disables the gap.
	PostSpeechGap time.Duration
}

func (c Config) withDefaults() Config {
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if c.RespondTimeout <= 0 {
		c.RespondTimeout = DefaultRespondTimeout
	}
	if c.PostSpeechGap == 0 {
		c.PostSpeechGap = DefaultPostSpeechGap
	}
	return c
}

// Responder turns transcribed text into a spoken reply.
// *assistant.Assistant satisfies it.
type Responder interface {
	Respond(ctx context.Context, text string) (audio.Reply, error)
}

// Journal receives a record of every turn. *journal.Journal satisfies it.
// Implementations must not block.
type Journal interface {
	Utterance(turn uuid.UUID, u *audio.Utterance, text string)
	Reply(turn uuid.UUID, r audio.Reply)
	Interrupt(turn uuid.UUID, offset time.Duration, detail string)
	Error(turn uuid.UUID, err error)
}

type nopJournal struct{}

func (nopJournal) Utterance(uuid.UUID, *audio.Utterance, string) {}
func (nopJournal) Reply(uuid.UUID, audio.Reply) {}
func (nopJournal) Interrupt(uuid.UUID, time.Duration, string) {}
func (nopJournal) Error(uuid.UUID, error) {}

// Option is a functional option for [New].
type Option func(*Controller)

// WithJournal records every turn in j.
func WithJournal(j Journal) Option {
	return func(c *Controller) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithMetrics records turn metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSessionID tags trace spans with the session identifier.
func WithSessionID(id string) Option {
	return func(c *Controller) { c.sessionID = id }
}

// WithHangupHook registers fn to run once a hangup reply has finished
// playing, was interrupted, or could not be played.
func WithHangupHook(fn func()) Option {
	return func(c *Controller) { c.onHangup = fn }
}

// WithErrorHook registers fn to receive every recoverable turn error.
// Use [Notice] to turn it into a message for the user.
func WithErrorHook(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithTranscriptHook registers fn to receive each transcript that is about
// to be answered.
func WithTranscriptHook(fn func(turn uuid.UUID, text string)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithTransitionHook registers fn to be called on every state change. It
// runs on the controller goroutine and must not block.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

// Controller runs the conversation loop. Run must be called at most once.
// State, Calibrated, Arbiter, SetArbiter and Recalibrate are safe to call
// from any goroutine.
type Controller struct {
	cfg       Config
	queue     *capture.Queue
	det       vad.SessionHandle
	rec       *recorder.Recorder
	stt       stt.Provider
	responder Responder
	player    audio.Player
	journal   Journal
	metrics   *observe.Metrics
	sessionID string

	onHangup     func()
	onError      func(error)
	onTranscript func(uuid.UUID, string)
	onTransition func(from, to State)

	recalibrate atomic.Bool

	mu         sync.Mutex
	state      State
	arb        *arbiter.Arbiter
	pendingArb *arbiter.Arbiter

	// Owned by the Run goroutine.
	inflight *task
	pending  *event
	speaking *playback
	gapLeft  time.Duration
	events   chan event
	wg       sync.WaitGroup
}

type task struct {
	id      uuid.UUID
	utt     *audio.Utterance
	emitted time.Time
	cancel  context.CancelFunc
}

type eventKind int

const (
	eventTranscript eventKind = iota
	eventDone
)

type event struct {
	kind  eventKind
	task  *task
	text  string
	reply audio.Reply
	err   error
}

type playback struct {
	turn   uuid.UUID
	handle audio.PlaybackHandle
	arb    *arbiter.Arbiter
	hangup bool
}

// New creates a Controller reading chunks from queue. det must be a fresh,
// uncalibrated session; the first chunks calibrate it.
func New(queue *capture.Queue, det vad.SessionHandle, transcriber stt.Provider, responder Responder, player audio.Player, arb *arbiter.Arbiter, cfg Config, opts ...Option) (*Controller, error) {
	var errs []error
	if queue == nil {
		errs = append(errs, errors.New("turn: capture queue must not be nil"))
	}
	if det == nil {
		errs = append(errs, errors.New("turn: voice activity detector must not be nil"))
	}
	if transcriber == nil {
		errs = append(errs, errors.New("turn: transcriber must not be nil"))
	}
	if responder == nil {
		errs = append(errs, errors.New("turn: responder must not be nil"))
	}
	if player == nil {
		errs = append(errs, errors.New("turn: player must not be nil"))
	}
	if arb == nil {
		errs = append(errs, errors.New("turn: arbiter must not be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:       cfg.withDefaults(),
		queue:     queue,
		det:       det,
		stt:       transcriber,
		responder: responder,
		player:    player,
		arb:       arb,
		journal:   nopJournal{},
		events:    make(chan event, 4),
	}
	for _, o := range opts {
		o(c)
	}
	c.rec = recorder.New(c.cfg.Recorder, det, recorder.WithDiscardHook(func(time.Duration) {
		if c.metrics != nil {
			c.metrics.UtterancesDiscarded.Add(context.Background(), 1)
		}
	}))
	return c, nil
}

// State returns the current conversation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Calibrated reports whether the detector has derived its threshold.
func (c *Controller) Calibrated() bool { return c.det.Calibrated() }

// Arbiter returns the arbiter used for the current or next playback.
func (c *Controller) Arbiter() *arbiter.Arbiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingArb != nil {
		return c.pendingArb
	}
	return c.arb
}

// SetArbiter replaces the interrupt arbiter. The swap takes effect when the
// next reply starts playing, never in the middle of one.
func (c *Controller) SetArbiter(a *arbiter.Arbiter) {
	if a == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingArb = a
}

// Recalibrate discards the noise floor. The request is held until the
// conversation is quiet: no reply playing, no post-speech gap pending and no
// utterance being recorded. From then on the detector calibrates again.
func (c *Controller) Recalibrate() { c.recalibrate.Store(true) }

// Run consumes chunks until ctx is cancelled or the capture queue is closed
// and drained. Collaborator failures never end the loop. On return any
// playback is stopped and background tasks have finished.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.halt()
		c.wg.Wait()
	}()

	for {
		var played <-chan struct{}
		if c.speaking != nil {
			played = c.speaking.handle.Done()
		}
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-c.queue.C():
			if !ok {
				slog.Info("capture queue closed, stopping turn loop")
				return nil
			}
			c.handleChunk(ctx, chunk)
		case ev := <-c.events:
			c.handleEvent(ctx, ev)
		case <-played:
			c.finishPlayback(ctx)
		}
	}
}

// ─── Chunk routing ────────────────────────────────────────────────────────────

func (c *Controller) handleChunk(ctx context.Context, chunk audio.Chunk) {
	// Only ambient audio may calibrate: never a reply, its echo tail or the
	// user mid-utterance. Otherwise chunks keep their normal route and an
	// uncalibrated detector falls back to its static threshold.
	quiet := c.speaking == nil && c.gapLeft <= 0 && c.rec.State() == recorder.StateIdle
	if quiet && c.recalibrate.CompareAndSwap(true, false) {
		slog.Info("recalibrating noise floor")
		c.det.Recalibrate()
	}
	if quiet && !c.det.Calibrated() {
		c.det.Calibrate(chunk)
		c.rec.Prime(chunk)
		if c.det.Calibrated() {
			c.reportCalibration(ctx)
		}
		return
	}

	switch {
	case c.speaking != nil:
		c.watch(ctx, chunk)
	case c.gapLeft > 0:
		c.gapLeft -= chunk.Duration()
		c.rec.Prime(chunk)
	default:
		c.record(ctx, chunk)
	}
}

func (c *Controller) record(ctx context.Context, chunk audio.Chunk) {
	if u, ok := c.rec.Process(chunk); ok {
		c.dispatch(ctx, u)
	}
	if c.pending != nil && c.rec.State() == recorder.StateIdle {
		ev := c.pending
		c.pending = nil
		c.play(ctx, *ev)
		return
	}
	c.settle()
}

func (c *Controller) watch(ctx context.Context, chunk audio.Chunk) {
	p := c.speaking
	d := p.arb.Observe(chunk)
	if !d.Interrupt {
		if c.metrics != nil && d.Reason != arbiter.ReasonIdle {
			c.metrics.RecordEcho(ctx, string(d.Reason))
		}
		c.rec.Prime(chunk)
		return
	}

	c.setState(StateInterrupted)
	observe.Logger(ctx).Info("barge-in detected, stopping playback",
		"turn", p.turn,
		"reason", d.Reason,
		"confidence", d.Confidence,
		"energy", d.Energy,
		"elapsed", d.Elapsed,
	)
	c.halt()
	if c.metrics != nil {
		c.metrics.RecordInterrupt(ctx, string(d.Reason))
	}
	c.journal.Interrupt(p.turn, d.Elapsed, string(d.Reason))
	if p.hangup {
		c.hangup()
	}
	// The interrupting chunk is the onset of the user's next utterance.
	c.record(ctx, chunk)
}

func (c *Controller) reportCalibration(ctx context.Context) {
	cal := c.det.State()
	slog.Info("noise floor calibrated",
		"noise_floor", cal.NoiseFloor,
		"threshold", cal.Threshold,
		"samples", cal.Samples,
	)
	if c.metrics != nil {
		c.metrics.RecordCalibration(ctx, cal.Threshold, cal.NoiseFloor)
	}
}

// ─── Background tasks ─────────────────────────────────────────────────────────

func (c *Controller) dispatch(ctx context.Context, u *audio.Utterance) {
	if c.inflight != nil {
		c.inflight.cancel()
		c.inflight = nil
	}
	if c.pending != nil {
		slog.Debug("dropping held reply superseded by a new utterance", "turn", c.pending.task.id)
		c.pending = nil
		c.recordStale(ctx)
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &task{id: uuid.New(), utt: u, emitted: time.Now(), cancel: cancel}
	u.ID = t.id.String()
	c.inflight = t

	observe.Logger(ctx).Info("utterance emitted",
		"turn", t.id,
		"duration", u.Duration,
		"reason", u.Reason,
		"first_seq", u.FirstSeq,
		"last_seq", u.LastSeq,
	)
	if c.metrics != nil {
		c.metrics.RecordUtterance(ctx, string(u.Reason), u.Duration.Seconds())
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runTask(tctx, t)
	}()
}

func (c *Controller) runTask(ctx context.Context, t *task) {
	text, err := c.transcribe(ctx, t)
	if err != nil {
		c.send(ctx, event{kind: eventDone, task: t, err: &TranscriptionError{Turn: t.id, Err: err}})
		return
	}
	c.send(ctx, event{kind: eventTranscript, task: t, text: text})

	reply, err := c.respond(ctx, t, text)
	if err != nil {
		c.send(ctx, event{kind: eventDone, task: t, text: text, err: &ResponseError{Turn: t.id, Err: err}})
		return
	}
	c.send(ctx, event{kind: eventDone, task: t, text: text, reply: reply})
}

func (c *Controller) transcribe(ctx context.Context, t *task) (string, error) {
	ctx, span := observe.StartTurnSpan(ctx, "turn.transcribe", c.sessionID, t.id.String())
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	tr, err := c.stt.Transcribe(ctx, t.utt)
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil && strings.TrimSpace(tr.Text) == "" {
		err = stt.ErrNoSpeech
	}
	if err != nil {
		observe.FailSpan(span, err, "transcription failed")
		return "", err
	}
	return strings.TrimSpace(tr.Text), nil
}

func (c *Controller) respond(ctx context.Context, t *task, text string) (audio.Reply, error) {
	ctx, span := observe.StartTurnSpan(ctx, "turn.respond", c.sessionID, t.id.String())
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RespondTimeout)
	defer cancel()

	reply, err := c.responder.Respond(ctx, text)
	if err == nil && len(reply.Samples) == 0 && !reply.Hangup {
		err = errors.New("reply has no audio")
	}
	if err != nil {
		observe.FailSpan(span, err, "response failed")
		return audio.Reply{}, err
	}
	return reply, nil
}

// send delivers ev unless the controller is shutting down or the task was
// superseded, in which case nobody is waiting for it.
func (c *Controller) send(ctx context.Context, ev event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev event) {
	if ev.task != c.inflight {
		if ev.kind == eventDone {
			slog.Debug("discarding stale turn result", "turn", ev.task.id)
			c.recordStale(ctx)
		}
		return
	}
	t := ev.task

	if ev.kind == eventTranscript {
		observe.Logger(ctx).Info("transcribed utterance", "turn", t.id, "text", ev.text)
		c.journal.Utterance(t.id, t.utt, ev.text)
		if c.onTranscript != nil {
			c.onTranscript(t.id, ev.text)
		}
		return
	}

	c.inflight = nil
	switch {
	case ev.err != nil:
		c.fail(ctx, t.id, ev.err)
		c.settle()
	case c.rec.State() != recorder.StateIdle:
		slog.Debug("holding reply while the user is speaking", "turn", t.id)
		c.pending = &ev
		c.settle()
	default:
		c.play(ctx, ev)
	}
}

func (c *Controller) recordStale(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.StaleResults.Add(ctx, 1)
	}
}

// ─── Playback ─────────────────────────────────────────────────────────────────

func (c *Controller) play(ctx context.Context, ev event) {
	t := ev.task
	c.mu.Lock()
	if c.pendingArb != nil {
		c.arb, c.pendingArb = c.pendingArb, nil
		slog.Info("interrupt settings applied", "strategy", c.arb.Strategy())
	}
	arb := c.arb
	c.mu.Unlock()

	handle, err := c.player.Play(ctx, ev.reply)
	if err != nil {
		c.fail(ctx, t.id, &PlaybackError{Turn: t.id, Err: err})
		if ev.reply.Hangup {
			c.hangup()
		}
		c.settle()
		return
	}

	arb.OnPlaybackStart(arbiter.ReferenceFromReply(ev.reply, arb.Config().ProfileWindow))
	c.speaking = &playback{turn: t.id, handle: handle, arb: arb, hangup: ev.reply.Hangup}
	c.gapLeft = 0
	if c.metrics != nil {
		c.metrics.ResponseDuration.Record(ctx, time.Since(t.emitted).Seconds())
	}
	c.journal.Reply(t.id, ev.reply)
	observe.Logger(ctx).Info("speaking reply",
		"turn", t.id,
		"duration", ev.reply.Duration(),
		"hangup", ev.reply.Hangup,
	)
	c.settle()
}

func (c *Controller) finishPlayback(ctx context.Context) {
	p := c.speaking
	c.speaking = nil
	p.arb.OnPlaybackStop()

	if err := p.handle.Err(); err != nil {
		c.fail(ctx, p.turn, &PlaybackError{Turn: p.turn, Err: err})
	} else {
		slog.Debug("reply finished", "turn", p.turn)
		c.gapLeft = c.cfg.PostSpeechGap
	}
	if p.hangup {
		c.hangup()
	}
	c.settle()
}

// halt stops the current playback, if any, without waiting for it to drain.
func (c *Controller) halt() {
	p := c.speaking
	if p == nil {
		return
	}
	c.speaking = nil
	if err := p.handle.Stop(); err != nil {
		slog.Warn("stopping playback failed", "turn", p.turn, "err", err)
	}
	p.arb.OnPlaybackStop()
}

func (c *Controller) hangup() {
	slog.Info("conversation ended by the user")
	if c.onHangup != nil {
		c.onHangup()
	}
}

// ─── State ────────────────────────────────────────────────────────────────────

func (c *Controller) fail(ctx context.Context, turn uuid.UUID, err error) {
	log := observe.Logger(ctx)
	if errors.Is(err, stt.ErrNoSpeech) {
		log.Debug("utterance held no speech", "turn", turn)
	} else {
		log.Warn("turn failed, back to listening", "turn", turn, "err", err)
		if c.metrics != nil {
			c.metrics.RecordTurnError(ctx, errorKind(err))
		}
	}
	c.journal.Error(turn, err)
	if c.onError != nil {
		c.onError(err)
	}
}

func errorKind(err error) string {
	var (
		te *TranscriptionError
		re *ResponseError
	)
	switch {
	case errors.As(err, &te):
		return "transcription"
	case errors.As(err, &re):
		return "response"
	default:
		return "playback"
	}
}

// settle derives the state from what the controller is doing right now.
func (c *Controller) settle() {
	next := StateListening
	switch {
	case c.speaking != nil:
		next = StateSpeaking
	case c.rec.State() != recorder.StateIdle:
		next = StateRecording
	case c.inflight != nil || c.pending != nil:
		next = StateAwaitingResponse
	}
	c.setState(next)
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	from := c.state
	c.state = next
	c.mu.Unlock()
	if from == next {
		return
	}
	slog.Debug("conversation state", "from", from, "to", next)
	if c.onTransition != nil {
		c.onTransition(from, next)
	}
}

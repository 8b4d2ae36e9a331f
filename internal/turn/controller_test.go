package turn

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxturn/internal/arbiter"
	"github.com/MrWong99/voxturn/internal/capture"
	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/internal/recorder"
	"github.com/MrWong99/voxturn/pkg/audio"
	audiomock "github.com/MrWong99/voxturn/pkg/audio/mock"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxturn/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/voxturn/pkg/provider/vad/mock"
)

const (
	rate        = 16000
	chunkFrames = 800 // 50 ms
	loud        = 0.3
	quiet       = 0.001
)

// ─── Test doubles ─────────────────────────────────────────────────────────────

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type responder struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, text string) (audio.Reply, error)
	texts []string
}

func (r *responder) Respond(ctx context.Context, text string) (audio.Reply, error) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	return spokenReply("re: " + text), nil
}

func (r *responder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.texts)
}

type journalEntry struct {
	kind   string
	turn   uuid.UUID
	text   string
	detail string
	err    error
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (j *recordingJournal) add(e journalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func (j *recordingJournal) Utterance(turn uuid.UUID, _ *audio.Utterance, text string) {
	j.add(journalEntry{kind: "utterance", turn: turn, text: text})
}

func (j *recordingJournal) Reply(turn uuid.UUID, r audio.Reply) {
	j.add(journalEntry{kind: "reply", turn: turn, text: r.Text})
}

func (j *recordingJournal) Interrupt(turn uuid.UUID, _ time.Duration, detail string) {
	j.add(journalEntry{kind: "interrupt", turn: turn, detail: detail})
}

func (j *recordingJournal) Error(turn uuid.UUID, err error) {
	j.add(journalEntry{kind: "error", turn: turn, err: err})
}

func (j *recordingJournal) Kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.kind
	}
	return out
}

func spokenReply(text string) audio.Reply {
	samples := make([]float32, rate)
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.Reply{Text: text, Samples: samples, SampleRate: rate}
}

// ─── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	q       *capture.Queue
	vad     *vadmock.Session
	stt     *sttmock.Provider
	resp    *responder
	player  *audiomock.Player
	started <-chan struct{}
	arb     *arbiter.Arbiter
	clk     *clock
	journal *recordingJournal
	c       *Controller

	states  chan State
	errs    chan error
	hangups atomic.Int32
	seq     uint64
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		q: capture.NewQueue(1000),
		vad: &vadmock.Session{
			SpeechFunc: func(c audio.Chunk) bool { return c.Energy() > 0.05 },
		},
		stt:     &sttmock.Provider{Result: stt.Transcript{Text: "hello there"}},
		resp:    &responder{},
		player:  &audiomock.Player{},
		clk:     &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		journal: &recordingJournal{},
		states:  make(chan State, 256),
		errs:    make(chan error, 16),
	}
	h.started = h.player.Started()
	h.arb = h.newArbiter(t)

	if cfg.Recorder == (recorder.Config{}) {
		cfg.Recorder = recorder.Config{
			SilenceDuration:      200 * time.Millisecond,
			MinSpeechDuration:    100 * time.Millisecond,
			MaxRecordingDuration: 2 * time.Second,
			PreRoll:              -1,
		}
	}
	if cfg.PostSpeechGap == 0 {
		cfg.PostSpeechGap = -1
	}
	opts = append([]Option{
		WithJournal(h.journal),
		WithTransitionHook(func(_, to State) { h.states <- to }),
		WithErrorHook(func(err error) { h.errs <- err }),
		WithHangupHook(func() { h.hangups.Add(1) }),
	}, opts...)

	c, err := New(h.q, h.vad, h.stt, h.resp, h.player, h.arb, cfg, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.c = c
	return h
}

func (h *harness) newArbiter(t *testing.T) *arbiter.Arbiter {
	t.Helper()
	a, err := arbiter.New(arbiter.Config{
		Cooldown:        100 * time.Millisecond,
		EnergyThreshold: 0.05,
	}, arbiter.WithClock(h.clk.now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	})
}

// push enqueues n constant-amplitude 50 ms chunks and returns their sequence
// numbers.
func (h *harness) push(amp float32, n int) []uint64 {
	seqs := make([]uint64, 0, n)
	for range n {
		samples := make([]float32, chunkFrames)
		for i := range samples {
			samples[i] = amp
		}
		h.q.Push(audio.Chunk{
			Samples:    samples,
			SampleRate: rate,
			Channels:   1,
			Seq:        h.seq,
			Timestamp:  time.Duration(h.seq) * 50 * time.Millisecond,
		})
		seqs = append(seqs, h.seq)
		h.seq++
	}
	return seqs
}

// utterance pushes a speech span long enough to be emitted, followed by the
// silence that closes it.
func (h *harness) utterance() {
	h.push(loud, 6)
	h.push(quiet, 4)
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s (current %s)", want, h.c.State())
		}
	}
}

func (h *harness) expectError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn error")
		return nil
	}
}

func (h *harness) expectPlay(t *testing.T) *audiomock.Handle {
	t.Helper()
	select {
	case <-h.started:
		return h.player.LastHandle()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil, Config{})
	if err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.TranscribeTimeout != DefaultTranscribeTimeout ||
		cfg.RespondTimeout != DefaultRespondTimeout ||
		cfg.PostSpeechGap != DefaultPostSpeechGap {
		t.Errorf("defaults = %+v", cfg)
	}
	if got := (Config{PostSpeechGap: -1}).withDefaults().PostSpeechGap; got != -1 {
		t.Errorf("negative gap must be kept, got %v", got)
	}
}

func TestController_FullTurn(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var transcripts []string
	var mu sync.Mutex
	h := newHarness(t, Config{}, WithMetrics(m), WithTranscriptHook(func(_ uuid.UUID, text string) {
		mu.Lock()
		transcripts = append(transcripts, text)
		mu.Unlock()
	}))
	h.run(t)

	if got := h.c.State(); got != StateListening {
		t.Fatalf("initial state = %s, want LISTENING", got)
	}
	h.push(quiet, 4)
	h.utterance()

	h.expectState(t, StateRecording)
	h.expectState(t, StateAwaitingResponse)
	h.expectState(t, StateSpeaking)
	handle := h.expectPlay(t)

	if h.stt.CallCount() != 1 {
		t.Fatalf("transcribe calls = %d, want 1", h.stt.CallCount())
	}
	u := h.stt.Calls[0].Utterance
	if u.Duration != 300*time.Millisecond || u.Reason != audio.ReasonSilence {
		t.Errorf("utterance = duration %v reason %s", u.Duration, u.Reason)
	}
	if _, err := uuid.Parse(u.ID); err != nil {
		t.Errorf("utterance ID %q is not a uuid", u.ID)
	}
	if got := h.resp.Texts(); len(got) != 1 || got[0] != "hello there" {
		t.Errorf("responder texts = %v", got)
	}
	if !h.arb.Active() {
		t.Error("arbiter must be active while speaking")
	}

	handle.Finish()
	h.expectState(t, StateListening)
	if h.arb.Active() {
		t.Error("arbiter must be stopped after playback")
	}

	if got, want := h.journal.Kinds(), []string{"utterance", "reply"}; !slices.Equal(got, want) {
		t.Errorf("journal = %v, want %v", got, want)
	}
	mu.Lock()
	if len(transcripts) != 1 || transcripts[0] != "hello there" {
		t.Errorf("transcripts = %v", transcripts)
	}
	mu.Unlock()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(t.Context(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := sumCounter(rm, "voxturn.utterances"); got != 1 {
		t.Errorf("utterances = %d, want 1", got)
	}
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			if s, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestController_ShortSpeechDiscarded(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)

	h.push(loud, 1)
	h.push(quiet, 4)
	marker := h.push(quiet, 1)[0]
	waitFor(t, "marker chunk", func() bool { return slices.Contains(h.vad.SpeechSeqs(), marker) })
	if h.stt.CallCount() != 0 {
		t.Errorf("transcribe calls = %d, want 0", h.stt.CallCount())
	}
	if got := h.c.State(); got != StateListening {
		t.Errorf("state = %s, want LISTENING", got)
	}
}

func TestController_BargeIn(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)

	h.utterance()
	h.expectState(t, StateSpeaking)
	handle := h.expectPlay(t)

	// Inside the cooldown even loud audio is echo.
	h.push(loud, 1)
	waitFor(t, "cooldown decision", func() bool { return h.arb.Last().Reason == arbiter.ReasonCooldown })
	// Past the cooldown, a chunk at 0.6x the reply level is echo.
	h.clk.advance(500 * time.Millisecond)
	h.push(0.06, 2)
	h.push(loud, 1)

	h.expectState(t, StateInterrupted)
	h.expectState(t, StateRecording)
	if handle.StopCalls() != 1 {
		t.Errorf("Stop calls = %d, want 1", handle.StopCalls())
	}
	if h.arb.Active() {
		t.Error("arbiter must be stopped after barge-in")
	}

	waitFor(t, "interrupt journal entry", func() bool {
		return slices.Contains(h.journal.Kinds(), "interrupt")
	})
	h.journal.mu.Lock()
	var interrupts []journalEntry
	for _, e := range h.journal.entries {
		if e.kind == "interrupt" {
			interrupts = append(interrupts, e)
		}
	}
	h.journal.mu.Unlock()
	if len(interrupts) != 1 || interrupts[0].detail != string(arbiter.ReasonUserDominates) {
		t.Errorf("interrupts = %+v", interrupts)
	}

	// The barge-in chunk opened the next utterance.
	h.push(loud, 5)
	h.push(quiet, 4)
	waitFor(t, "second transcription", func() bool { return h.stt.CallCount() == 2 })
}

func TestController_CollaboratorFailures(t *testing.T) {
	errBackend := errors.New("backend down")
	tests := []struct {
		name       string
		setup      func(h *harness)
		wantAs     func(error) bool
		wantNotice string
	}{
		{
			name:  "transcription",
			setup: func(h *harness) { h.stt.Err = errBackend },
			wantAs: func(err error) bool {
				var te *TranscriptionError
				return errors.As(err, &te)
			},
			wantNotice: "Sorry, I didn't catch that.",
		},
		{
			name:  "no speech",
			setup: func(h *harness) { h.stt.Result = stt.Transcript{Text: "   "} },
			wantAs: func(err error) bool {
				return errors.Is(err, stt.ErrNoSpeech)
			},
		},
		{
			name: "response",
			setup: func(h *harness) {
				h.resp.fn = func(context.Context, string) (audio.Reply, error) { return audio.Reply{}, errBackend }
			},
			wantAs: func(err error) bool {
				var re *ResponseError
				return errors.As(err, &re)
			},
			wantNotice: "Sorry, I couldn't come up with a reply.",
		},
		{
			name:  "play",
			setup: func(h *harness) { h.player.PlayErr = errBackend },
			wantAs: func(err error) bool {
				var pe *PlaybackError
				return errors.As(err, &pe)
			},
			wantNotice: "Sorry, I couldn't play my reply.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			tt.setup(h)
			h.run(t)

			h.utterance()
			err := h.expectError(t)
			if !tt.wantAs(err) {
				t.Fatalf("error = %v (%T)", err, err)
			}
			if got := Notice(err); got != tt.wantNotice {
				t.Errorf("Notice = %q, want %q", got, tt.wantNotice)
			}
			h.expectState(t, StateListening)
			waitFor(t, "error journal entry", func() bool {
				return slices.Contains(h.journal.Kinds(), "error")
			})

			// The loop survives and takes the next utterance.
			h.utterance()
			waitFor(t, "next transcription", func() bool { return h.stt.CallCount() == 2 })
		})
	}
}

func TestController_PlaybackFailsMidway(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)

	h.utterance()
	handle := h.expectPlay(t)
	handle.FinishWithError(audiomock.ErrPlaybackFailed)

	err := h.expectError(t)
	var pe *PlaybackError
	if !errors.As(err, &pe) || !errors.Is(err, audiomock.ErrPlaybackFailed) {
		t.Fatalf("error = %v", err)
	}
	h.expectState(t, StateListening)
}

func TestController_NewUtteranceSupersedesInflight(t *testing.T) {
	h := newHarness(t, Config{})
	var calls atomic.Int32
	h.stt.TranscribeFunc = func(ctx context.Context, _ *audio.Utterance) (stt.Transcript, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{Text: "second"}, nil
	}
	h.run(t)

	h.utterance()
	waitFor(t, "first transcription", func() bool { return calls.Load() == 1 })
	h.utterance()

	h.expectPlay(t)
	if got := h.resp.Texts(); !slices.Equal(got, []string{"second"}) {
		t.Errorf("responder texts = %v, want [second]", got)
	}
	select {
	case err := <-h.errs:
		t.Errorf("superseded task must not surface an error, got %v", err)
	default:
	}
}

func TestController_HeldReplyDroppedByNewUtterance(t *testing.T) {
	h := newHarness(t, Config{})
	release := make(chan struct{})
	h.resp.fn = func(_ context.Context, text string) (audio.Reply, error) {
		if text == "first" {
			<-release
		}
		return spokenReply("re: " + text), nil
	}
	var calls atomic.Int32
	h.stt.TranscribeFunc = func(context.Context, *audio.Utterance) (stt.Transcript, error) {
		if calls.Add(1) == 1 {
			return stt.Transcript{Text: "first"}, nil
		}
		return stt.Transcript{Text: "second"}, nil
	}
	h.run(t)

	h.utterance()
	h.expectState(t, StateAwaitingResponse)
	h.push(loud, 6)
	h.expectState(t, StateRecording)
	close(release)
	h.push(quiet, 4)

	h.expectPlay(t)
	waitFor(t, "both replies generated", func() bool { return len(h.resp.Texts()) == 2 })
	if n := h.player.PlayCount(); n != 1 {
		t.Fatalf("play calls = %d, want 1", n)
	}
	if got := h.player.Played[0].Text; got != "re: second" {
		t.Errorf("played %q, want the reply to the newer utterance", got)
	}
}

func TestController_Hangup(t *testing.T) {
	h := newHarness(t, Config{})
	h.resp.fn = func(context.Context, string) (audio.Reply, error) {
		r := spokenReply("Goodbye!")
		r.Hangup = true
		return r, nil
	}
	h.run(t)

	h.utterance()
	handle := h.expectPlay(t)
	if h.hangups.Load() != 0 {
		t.Fatal("hangup must wait for the farewell to finish")
	}
	handle.Finish()
	waitFor(t, "hangup", func() bool { return h.hangups.Load() == 1 })
}

func TestController_SetArbiterAppliesOnNextPlayback(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)

	h.utterance()
	first := h.expectPlay(t)

	next := h.newArbiter(t)
	h.c.SetArbiter(next)
	if h.c.Arbiter() != next {
		t.Error("Arbiter must report the staged arbiter")
	}
	if next.Active() {
		t.Fatal("staged arbiter must not take over mid-reply")
	}
	first.Finish()
	h.expectState(t, StateListening)

	h.utterance()
	h.expectPlay(t)
	if !next.Active() {
		t.Error("new arbiter must watch the next reply")
	}
	if h.arb.Active() {
		t.Error("old arbiter must be retired")
	}
}

func TestController_PostSpeechGap(t *testing.T) {
	h := newHarness(t, Config{PostSpeechGap: 200 * time.Millisecond})
	h.run(t)

	h.utterance()
	h.expectPlay(t).Finish()
	h.expectState(t, StateListening)

	tail := h.push(loud, 4)
	marker := h.push(quiet, 1)[0]
	waitFor(t, "marker chunk", func() bool { return slices.Contains(h.vad.SpeechSeqs(), marker) })
	seen := h.vad.SpeechSeqs()
	for _, s := range tail {
		if slices.Contains(seen, s) {
			t.Errorf("chunk %d inside the post-speech gap reached the detector", s)
		}
	}
	if h.stt.CallCount() != 1 {
		t.Errorf("transcribe calls = %d, want 1", h.stt.CallCount())
	}
}

func TestController_CalibrationAndRecalibrate(t *testing.T) {
	h := newHarness(t, Config{})
	h.vad.CalibrateAfter = 3
	h.run(t)

	h.push(loud, 3)
	marker := h.push(quiet, 1)[0]
	waitFor(t, "first detection", func() bool { return slices.Contains(h.vad.SpeechSeqs(), marker) })
	if h.stt.CallCount() != 0 {
		t.Error("calibration chunks must not be recorded")
	}
	if !h.c.Calibrated() {
		t.Fatal("expected calibrated detector")
	}

	h.c.Recalibrate()
	h.push(quiet, 3)
	marker = h.push(quiet, 1)[0]
	waitFor(t, "detection after recalibration", func() bool { return slices.Contains(h.vad.SpeechSeqs(), marker) })
	if got := h.vad.RecalibrateCount(); got != 1 {
		t.Errorf("Recalibrate calls = %d, want 1", got)
	}
}

func TestController_RecalibrateWaitsForUtteranceToEnd(t *testing.T) {
	h := newHarness(t, Config{})
	h.vad.CalibrateAfter = 3
	h.run(t)

	h.push(quiet, 3)
	waitFor(t, "calibration", h.c.Calibrated)
	h.push(loud, 3)
	h.expectState(t, StateRecording)

	h.c.Recalibrate()
	speech := h.push(loud, 3)
	waitFor(t, "speech after the request", func() bool {
		seen := h.vad.SpeechSeqs()
		return slices.Contains(seen, speech[len(speech)-1])
	})
	for _, s := range speech {
		if !slices.Contains(h.vad.SpeechSeqs(), s) {
			t.Errorf("chunk %d of the open utterance skipped the detector", s)
		}
	}
	h.push(quiet, 4)
	waitFor(t, "transcription", func() bool { return h.stt.CallCount() == 1 })
	if got := h.vad.RecalibrateCount(); got != 0 {
		t.Errorf("Recalibrate calls during the turn = %d, want 0", got)
	}

	h.expectPlay(t).Finish()
	h.expectState(t, StateListening)
	h.push(quiet, 3)
	waitFor(t, "recalibration", func() bool { return h.vad.RecalibrateCount() == 1 })
	marker := h.push(quiet, 1)[0]
	waitFor(t, "detection after recalibration", func() bool { return slices.Contains(h.vad.SpeechSeqs(), marker) })
}

func TestController_BargeInWhileRecalibrating(t *testing.T) {
	h := newHarness(t, Config{})
	h.vad.CalibrateAfter = 3
	release := make(chan struct{})
	h.resp.fn = func(_ context.Context, text string) (audio.Reply, error) {
		<-release
		return spokenReply("re: " + text), nil
	}
	h.run(t)

	h.push(quiet, 3)
	waitFor(t, "calibration", h.c.Calibrated)
	h.utterance()
	h.expectState(t, StateAwaitingResponse)

	h.c.Recalibrate()
	h.push(quiet, 1)
	waitFor(t, "recalibration", func() bool { return h.vad.RecalibrateCount() == 1 })
	close(release)
	handle := h.expectPlay(t)
	if h.c.Calibrated() {
		t.Fatal("calibration should still be open when the reply starts")
	}

	h.clk.advance(500 * time.Millisecond)
	h.push(loud, 3)
	h.expectState(t, StateInterrupted)
	if handle.StopCalls() != 1 {
		t.Errorf("Stop calls = %d, want 1", handle.StopCalls())
	}
	if got := h.vad.State().Samples; got != 1 {
		t.Errorf("calibration samples = %d, want 1 (reply audio must not calibrate)", got)
	}
}

func TestController_QueueClosedStopsRun(t *testing.T) {
	h := newHarness(t, Config{})
	done := make(chan error, 1)
	go func() { done <- h.c.Run(t.Context()) }()

	h.q.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the queue closed")
	}
}

func TestController_ShutdownStopsPlayback(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	h.utterance()
	handle := h.expectPlay(t)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.StopCalls() != 1 {
		t.Errorf("Stop calls = %d, want 1", handle.StopCalls())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateListening, "LISTENING"},
		{StateRecording, "RECORDING"},
		{StateAwaitingResponse, "AWAITING_RESPONSE"},
		{StateSpeaking, "SPEAKING"},
		{StateInterrupted, "INTERRUPTED"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

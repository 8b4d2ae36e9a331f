package app_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxturn/internal/app"
	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/device"
	"github.com/MrWong99/voxturn/internal/journal"
	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/pkg/audio"
	audiomock "github.com/MrWong99/voxturn/pkg/audio/mock"
	"github.com/MrWong99/voxturn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxturn/pkg/provider/llm/mock"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxturn/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxturn/pkg/provider/tts/mock"
	"github.com/MrWong99/voxturn/pkg/provider/vad/energy"
)

const rate = 16000

const testYAML = `
audio:
  rates: [16000]
  queue_size: 1000
detection:
  calibration_chunks: 3
recorder:
  silence_duration: 200ms
  min_speech_duration: 100ms
  max_recording_duration: 5s
  pre_roll: -1ns
interrupt:
  post_speech_gap: -1ns
providers:
  stt:
    - name: whisper
  llm:
    - name: openai
  tts:
    - name: elevenlabs
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func level(v float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

type harness struct {
	backend *audiomock.Backend
	player  *audiomock.Player
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	store   *journal.MemStore
}

func newHarness(text string) *harness {
	return &harness{
		backend: &audiomock.Backend{
			Devices: []audio.DeviceInfo{
				{ID: "0", Name: "HDMI Output", InputChannels: 2},
				{ID: "1", Name: "USB Microphone", InputChannels: 1},
			},
			Signal: func(audio.DeviceInfo, int) []float32 { return level(0.002, audio.FramesFor(100*time.Millisecond, rate)) },
		},
		player: &audiomock.Player{},
		stt:    &sttmock.Provider{Result: stt.Transcript{Text: text}},
		llm: &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "Sure."},
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000, MaxOutputTokens: 4096},
		},
		tts:   &ttsmock.Provider{Reply: audio.Reply{Samples: level(0.1, 1600), SampleRate: rate}},
		store: journal.NewMemStore(),
	}
}

func (h *harness) providers() *app.Providers {
	return &app.Providers{
		Backend: h.backend,
		Player:  h.player,
		STT:     h.stt,
		LLM:     h.llm,
		TTS:     h.tts,
		VAD:     energy.New(),
		TTSName: "elevenlabs",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// syncBuffer is a strings.Builder safe for one writer and a polling reader.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := app.New(t.Context(), testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("expected error for empty providers, got nil")
	}
	for _, want := range []string{"capture backend", "player", "stt", "llm", "tts", "vad"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestNew_SelectsDevice(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	a, err := app.New(t.Context(), testConfig(t), h.providers(), app.WithJournalStore(h.store))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sel := a.Device()
	if sel.Device.Name != "USB Microphone" || sel.SampleRate != rate {
		t.Errorf("selected %q at %d, want USB Microphone at %d", sel.Device.Name, sel.SampleRate, rate)
	}
}

func TestNew_NoDevice(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	h.backend.Signal = func(audio.DeviceInfo, int) []float32 { return level(0, 1600) }

	_, err := app.New(t.Context(), testConfig(t), h.providers(), app.WithJournalStore(h.store))
	var noDev *device.NoDeviceError
	if !errors.As(err, &noDev) {
		t.Fatalf("expected *device.NoDeviceError, got %v", err)
	}
	if noDev.Candidates != 1 {
		t.Errorf("candidates: got %d, want 1", noDev.Candidates)
	}
}

func TestNew_PreferredDeviceFallsBack(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	cfg := testConfig(t)
	cfg.Audio.Device = "Yeti"

	a, err := app.New(t.Context(), cfg, h.providers(), app.WithJournalStore(h.store))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Device().Device.Name != "USB Microphone" {
		t.Errorf("selected %q, want fallback to USB Microphone", a.Device().Device.Name)
	}
}

func TestApp_ConversationEndsOnGoodbye(t *testing.T) {
	t.Parallel()
	h := newHarness("okay, goodbye")
	started := h.player.Started()

	reader := sdkmetric.NewManualReader()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := app.New(t.Context(), testConfig(t), h.providers(),
		app.WithJournalStore(h.store),
		app.WithMetrics(metrics),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(t.Context()) }()

	waitFor(t, "capture stream", func() bool { return h.backend.OpenCount() == 1 })
	stream := h.backend.LastStream()
	chunk := audio.FramesFor(50*time.Millisecond, rate)
	for range 3 {
		stream.Emit(level(0.002, chunk))
	}
	waitFor(t, "calibration", a.Controller().Calibrated)

	for range 6 {
		stream.Emit(level(0.3, chunk))
	}
	for range 5 {
		stream.Emit(level(0.001, chunk))
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("farewell was never played")
	}
	if got := h.llm.CallCount(); got != 0 {
		t.Errorf("exit phrase should not reach the model, got %d calls", got)
	}
	h.player.LastHandle().Finish()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after hangup", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the farewell finished")
	}

	sess, ok := h.store.Session(a.SessionID())
	if !ok {
		t.Fatal("session not recorded")
	}
	if sess.Device != "USB Microphone" || sess.SampleRate != rate || sess.EndedAt.IsZero() {
		t.Errorf("session: got %+v", sess)
	}
	entries, err := h.store.Entries(t.Context(), a.SessionID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var kinds []journal.Kind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	want := []journal.Kind{journal.KindUtterance, journal.KindReply, journal.KindHangup}
	if !slices.Equal(kinds, want) {
		t.Errorf("journal kinds: got %v, want %v", kinds, want)
	}
	if entries[0].Text != "okay, goodbye" {
		t.Errorf("utterance text: got %q", entries[0].Text)
	}

	if err := a.Shutdown(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Shutdown(t.Context()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if h.player.CloseCalls != 1 || h.backend.CloseCalls != 1 {
		t.Errorf("close calls: player=%d backend=%d, want 1 each", h.player.CloseCalls, h.backend.CloseCalls)
	}
}

func TestApp_HealthServer(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := app.New(t.Context(), testConfig(t), h.providers(),
		app.WithJournalStore(h.store),
		app.WithListener(l),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	base := "http://" + l.Addr().String()
	status := func(path string) int {
		resp, err := http.Get(base + path)
		if err != nil {
			return 0
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	waitFor(t, "healthz", func() bool { return status("/healthz") == http.StatusOK })
	if got := status("/readyz"); got != http.StatusServiceUnavailable {
		t.Errorf("readyz before calibration: got %d, want 503", got)
	}

	waitFor(t, "capture stream", func() bool { return h.backend.OpenCount() == 1 })
	stream := h.backend.LastStream()
	for range 3 {
		stream.Emit(level(0.002, 800))
	}
	waitFor(t, "readyz", func() bool { return status("/readyz") == http.StatusOK })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_StreamLossIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	a, err := app.New(t.Context(), testConfig(t), h.providers(),
		app.WithJournalStore(h.store),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Run(t.Context()) }()

	waitFor(t, "capture stream", func() bool { return h.backend.OpenCount() == 1 })
	h.backend.OpenErr = func(audio.DeviceInfo, int) error { return errors.New("unplugged") }
	h.backend.LastStream().Fail(errors.New("device removed"))

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "unplugged") {
			t.Fatalf("Run returned %v, want stream error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the stream was lost")
	}
}

func TestApp_ReloadSwapsArbiter(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	old := testConfig(t)
	a, err := app.New(t.Context(), old, h.providers(),
		app.WithJournalStore(h.store),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := testConfig(t)
	updated.Interrupt.Cooldown = 900 * time.Millisecond
	updated.Interrupt.Strategy = "adaptive"
	a.Reload(old, updated)

	arb := a.Controller().Arbiter()
	if arb.Config().Cooldown != 900*time.Millisecond || arb.Strategy() != "adaptive" {
		t.Errorf("arbiter: cooldown=%v strategy=%q, want 900ms adaptive", arb.Config().Cooldown, arb.Strategy())
	}
}

func TestCalibrate(t *testing.T) {
	t.Parallel()
	h := newHarness("")
	h.backend.ChunksPerOpen = 5

	cal, err := app.Calibrate(t.Context(), testConfig(t), h.backend, energy.New(),
		device.Selected{Device: h.backend.Devices[1], SampleRate: rate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cal.Calibrated || cal.Threshold < 0.01 {
		t.Errorf("calibration: got %+v", cal)
	}
}

func TestApp_FailedTurnWritesNotice(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	h.stt.Err = errors.New("whisper unavailable")
	var notices syncBuffer

	a, err := app.New(t.Context(), testConfig(t), h.providers(),
		app.WithJournalStore(h.store),
		app.WithNotices(&notices),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, "capture stream", func() bool { return h.backend.OpenCount() == 1 })
	stream := h.backend.LastStream()
	chunk := audio.FramesFor(50*time.Millisecond, rate)
	for range 3 {
		stream.Emit(level(0.002, chunk))
	}
	waitFor(t, "calibration", a.Controller().Calibrated)
	for range 6 {
		stream.Emit(level(0.3, chunk))
	}
	for range 5 {
		stream.Emit(level(0.001, chunk))
	}

	waitFor(t, "notice", func() bool { return notices.String() != "" })
	if got, want := notices.String(), "Sorry, I didn't catch that.\n"; got != want {
		t.Errorf("notices: got %q, want %q", got, want)
	}
	if n := h.player.PlayCount(); n != 0 {
		t.Errorf("play calls: got %d, want 0", n)
	}
}

func TestApp_RecalibrateEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := app.New(t.Context(), testConfig(t), h.providers(),
		app.WithJournalStore(h.store),
		app.WithListener(l),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, "capture stream", func() bool { return h.backend.OpenCount() == 1 })
	stream := h.backend.LastStream()
	for range 3 {
		stream.Emit(level(0.002, 800))
	}
	waitFor(t, "calibration", a.Controller().Calibrated)

	resp, err := http.Post("http://"+l.Addr().String()+"/recalibrate", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", resp.StatusCode)
	}

	stream.Emit(level(0.002, 800))
	waitFor(t, "calibration reset", func() bool { return !a.Controller().Calibrated() })
	for range 2 {
		stream.Emit(level(0.002, 800))
	}
	waitFor(t, "recalibration", a.Controller().Calibrated)
}

// closeLog records the order in which subsystems are closed.
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

type orderedStore struct {
	*journal.MemStore
	log *closeLog
}

func (s orderedStore) Close() {
	s.log.add("journal")
	s.MemStore.Close()
}

type orderedBackend struct {
	*audiomock.Backend
	log *closeLog
}

func (b orderedBackend) Close() error {
	b.log.add("backend")
	return b.Backend.Close()
}

type orderedPlayer struct {
	*audiomock.Player
	log *closeLog
}

func (p orderedPlayer) Close() error {
	p.log.add("player")
	return p.Player.Close()
}

func TestApp_ShutdownReverseOrder(t *testing.T) {
	t.Parallel()
	h := newHarness("hello")
	log := &closeLog{}
	providers := h.providers()
	providers.Backend = orderedBackend{Backend: h.backend, log: log}
	providers.Player = orderedPlayer{Player: h.player, log: log}

	a, err := app.New(t.Context(), testConfig(t), providers,
		app.WithJournalStore(orderedStore{MemStore: h.store, log: log}),
		app.WithDevice(device.Selected{Device: h.backend.Devices[1], SampleRate: rate}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Shutdown(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"backend", "player", "journal"}
	if !slices.Equal(log.order, want) {
		t.Errorf("close order: got %v, want %v", log.order, want)
	}
}

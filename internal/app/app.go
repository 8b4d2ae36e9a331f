// Package app wires all voxturn subsystems into a running voice loop.
//
// The App struct owns the full lifecycle: New selects the capture device and
// connects all subsystems, Run executes the loop until the context is
// cancelled or the user says goodbye, and Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithJournalStore, WithDevice, etc.). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxturn/internal/arbiter"
	"github.com/MrWong99/voxturn/internal/assistant"
	"github.com/MrWong99/voxturn/internal/capture"
	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/device"
	"github.com/MrWong99/voxturn/internal/health"
	"github.com/MrWong99/voxturn/internal/journal"
	"github.com/MrWong99/voxturn/internal/journal/postgres"
	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/internal/turn"
	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/llm"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
	"github.com/MrWong99/voxturn/pkg/provider/tts"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 5 * time.Second

// Providers holds one interface value per collaborator slot. Populated by
// main.go via the config registry.
type Providers struct {
	Backend audio.Backend
	Player  audio.Player
	STT     stt.Provider
	LLM     llm.Provider
	TTS     tts.Provider
	VAD     vad.Engine

	// TTSName labels the synthesizer voice.
	TTSName string
}

func (p *Providers) validate() error {
	var errs []error
	if p == nil {
		return errors.New("app: providers must not be nil")
	}
	if p.Backend == nil {
		errs = append(errs, errors.New("app: capture backend is required"))
	}
	if p.Player == nil {
		errs = append(errs, errors.New("app: player is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("app: stt provider is required"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("app: llm provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("app: tts provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("app: vad engine is required"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes and runs one conversation session.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	selected   device.Selected
	store      journal.Store
	journal    *journal.Journal
	queue      *capture.Queue
	pump       *capture.Pump
	assistant  *assistant.Assistant
	controller *turn.Controller

	metricsHandler http.Handler
	notices        io.Writer
	watcher        *config.Watcher
	listener       net.Listener
	deviceSet      bool

	mu     sync.Mutex
	cancel context.CancelFunc

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournalStore injects a journal store instead of creating one from config.
func WithJournalStore(s journal.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDevice skips device selection and captures from sel.
func WithDevice(sel device.Selected) Option {
	return func(a *App) {
		a.selected = sel
		a.deviceSet = true
	}
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithNotices writes the short user-facing notice of every recoverable turn
// failure to w, one per line.
func WithNotices(w io.Writer) Option {
	return func(a *App) { a.notices = w }
}

// WithWatcher runs w alongside the loop. Its change callback should call
// [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves health and metrics on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: device selection, journal
// store connection, detector, assistant and controller construction. It
// fails with *[device.NoDeviceError] when no capture device works.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Capture device ────────────────────────────────────────────────
	if !a.deviceSet {
		sel, err := SelectDevice(ctx, cfg.Audio, providers.Backend)
		if err != nil {
			return nil, err
		}
		a.selected = sel
	}

	// ── 2. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 3. Capture pump ──────────────────────────────────────────────────
	a.queue = capture.NewQueue(cfg.Audio.QueueSize)
	a.pump = capture.NewPump(providers.Backend, a.selected.Device, audio.StreamConfig{
		SampleRate:     a.selected.SampleRate,
		Channels:       cfg.Audio.Channels,
		FramesPerChunk: cfg.Audio.FramesPerChunk(a.selected.SampleRate),
	}, a.queue, capture.WithMetrics(a.metrics))

	// ── 4. Detector ──────────────────────────────────────────────────────
	det, err := providers.VAD.NewSession(cfg.Detection.VAD())
	if err != nil {
		return nil, fmt.Errorf("app: create vad session: %w", err)
	}

	// ── 5. Assistant ─────────────────────────────────────────────────────
	a.assistant, err = assistant.New(providers.LLM, providers.TTS,
		cfg.Assistant.Assistant(providers.TTSName), assistant.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 6. Arbiter + controller ──────────────────────────────────────────
	arb, err := arbiter.New(cfg.Interrupt.Arbiter())
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.controller, err = turn.New(a.queue, det, providers.STT, a.assistant, providers.Player, arb, cfg.Turn(),
		turn.WithJournal(a.journal),
		turn.WithMetrics(a.metrics),
		turn.WithSessionID(a.journal.SessionID().String()),
		turn.WithHangupHook(a.stop),
		turn.WithErrorHook(a.notify),
		turn.WithTranscriptHook(func(id uuid.UUID, text string) {
			slog.Info("heard", "turn", id, "text", text)
		}),
		turn.WithTransitionHook(func(from, to turn.State) {
			slog.Debug("conversation state", "from", from, "to", to)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.closers = append(a.closers, providers.Player.Close, providers.Backend.Close)
	return a, nil
}

// SelectDevice runs the device catalog over backend with the audio settings
// of cfg. When cfg.Device names a device that fails every trial, selection
// falls back to all devices.
func SelectDevice(ctx context.Context, cfg config.AudioConfig, backend audio.Backend) (device.Selected, error) {
	opts := []device.Option{
		device.WithRates(cfg.Rates),
		device.WithTrialDuration(cfg.TrialDuration),
		device.WithChannels(cfg.Channels),
	}
	if cfg.Device != "" {
		sel, err := device.New(backend, append(opts, device.WithPreferredName(cfg.Device))...).Select(ctx)
		if err == nil {
			return sel, nil
		}
		var noDev *device.NoDeviceError
		if !errors.As(err, &noDev) {
			return device.Selected{}, err
		}
		slog.Warn("configured capture device unusable, trying all devices", "device", cfg.Device, "err", err)
	}
	return device.New(backend, opts...).Select(ctx)
}

// initJournal connects the Postgres store when a DSN is configured and falls
// back to an in-memory store otherwise.
func (a *App) initJournal(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
		} else {
			slog.Info("journal.postgres_dsn is empty; keeping the turn journal in memory")
			a.store = journal.NewMemStore()
		}
	}
	a.closers = append(a.closers, func() error {
		a.store.Close()
		return nil
	})

	opts := []journal.Option{journal.WithQueueSize(a.cfg.Journal.QueueSize)}
	if a.cfg.Journal.Archive {
		opts = append(opts, journal.WithArchive(journal.NewArchiver(a.cfg.Journal.ArchiveBitrate)))
	}
	j, err := journal.New(a.store, a.selected.Device.Name, a.selected.SampleRate, opts...)
	if err != nil {
		return err
	}
	a.journal = j
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Device returns the capture device and rate chosen for the session.
func (a *App) Device() device.Selected { return a.selected }

// SessionID identifies the session in the journal.
func (a *App) SessionID() uuid.UUID { return a.journal.SessionID() }

// Controller returns the turn controller.
func (a *App) Controller() *turn.Controller { return a.controller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run captures and converses until ctx is cancelled or the user ends the
// session with an exit phrase; both return nil. A capture device that fails
// and cannot be reopened ends Run with a *[capture.StreamError].
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	// The journal outlives the loop so the final turn is still recorded.
	jctx, jcancel := context.WithCancel(context.WithoutCancel(ctx))
	jdone := make(chan error, 1)
	go func() { jdone <- a.journal.Run(jctx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pump.Run(gctx) })
	g.Go(func() error { return a.controller.Run(gctx) })
	if srv, l, err := a.httpServer(); err != nil {
		cancel()
		jcancel()
		<-jdone
		return err
	} else if srv != nil {
		g.Go(func() error { return serve(gctx, srv, l) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("voxturn running",
		"device", a.selected.Device.Name,
		"sample_rate", a.selected.SampleRate,
		"session", a.journal.SessionID(),
	)
	err := g.Wait()

	jcancel()
	if jerr := <-jdone; jerr != nil {
		slog.Warn("journal closed with error", "err", jerr)
	}
	if dropped := a.journal.Dropped(); dropped > 0 {
		slog.Warn("journal entries dropped", "count", dropped)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stop ends Run. It is the controller's hangup hook.
func (a *App) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		slog.Info("session ended by user")
		a.cancel()
	}
}

// notify is the controller's error hook.
func (a *App) notify(err error) {
	msg := turn.Notice(err)
	if msg == "" || a.notices == nil {
		return
	}
	if _, werr := fmt.Fprintln(a.notices, msg); werr != nil {
		slog.Debug("writing turn notice failed", "err", werr)
	}
}

// Reload applies a changed config. Only the interrupt section takes effect
// immediately, at the next reply; other changes are logged.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.InterruptChanged {
		arb, err := arbiter.New(d.NewInterrupt.Arbiter())
		if err != nil {
			slog.Warn("config reload: interrupt settings rejected", "err", err)
		} else {
			a.controller.SetArbiter(arb)
			slog.Info("config reload: interrupt settings updated",
				"strategy", arb.Strategy(),
				"cooldown", arb.Config().Cooldown,
			)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes require a restart", "sections", d.RestartRequired)
	}
}

// httpServer builds the health and metrics server, or returns nil when no
// listen address is configured.
func (a *App) httpServer() (*http.Server, net.Listener, error) {
	l := a.listener
	if l == nil {
		if a.cfg.Server.ListenAddr == "" {
			return nil, nil, nil
		}
		var err error
		l, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	mux := http.NewServeMux()
	health.New(
		health.WithLiveness(health.CaptureAlive(a.pump)),
		health.WithReadiness(health.Calibrated(a.controller)),
		health.WithInfo(a.info),
	).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	mux.HandleFunc("POST /recalibrate", func(w http.ResponseWriter, _ *http.Request) {
		slog.Info("noise floor recalibration requested over http")
		a.controller.Recalibrate()
		w.WriteHeader(http.StatusAccepted)
	})
	session := func() string { return a.journal.SessionID().String() }
	srv := &http.Server{
		Handler:           observe.Middleware(a.metrics, observe.WithSessionHeader(session))(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, l, nil
}

func (a *App) info() map[string]string {
	return map[string]string{
		"state":       a.controller.State().String(),
		"device":      a.selected.Device.Name,
		"sample_rate": fmt.Sprint(a.selected.SampleRate),
		"session":     a.journal.SessionID().String(),
		"strategy":    string(a.controller.Arbiter().Strategy()),
	}
}

func serve(ctx context.Context, srv *http.Server, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	slog.Info("health server listening", "addr", l.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: health server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("health server shutdown", "err", err)
		}
		<-errCh
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

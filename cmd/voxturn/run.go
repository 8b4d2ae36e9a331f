package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxturn/internal/app"
	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/device"
	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/internal/turn"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen on the microphone and converse until told goodbye",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(cmd.Context(), cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func runLoop(ctx context.Context, out io.Writer, configPath string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Info("voxturn starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defer providers.Close()

	// ── Config watcher ────────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		application.Reload(old, new)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
		watcher = nil
	}

	// ── Application ───────────────────────────────────────────────────────────
	appOpts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
		app.WithNotices(out),
	}
	if watcher != nil {
		appOpts = append(appOpts, app.WithWatcher(watcher))
	}
	application, err = app.New(ctx, cfg, providers.Providers, appOpts...)
	if err != nil {
		_ = providers.Player.Close()
		_ = providers.Backend.Close()
		var noDev *device.NoDeviceError
		if errors.As(err, &noDev) {
			for _, a := range noDev.Attempts {
				slog.Error("capture trial failed", "device", a.Device, "rate", a.SampleRate, "err", a.Err)
			}
		}
		return fmt.Errorf("initialise application: %w", err)
	}

	go handleSignals(ctx, watcher, application.Controller())

	printStartupSummary(out, cfg, application.Device())
	slog.Info("listening, say goodbye or press Ctrl+C to stop")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return errors.Join(runErr, err)
	}
	if runErr == nil {
		slog.Info("goodbye")
	}
	return runErr
}

// handleSignals re-reads the config file on SIGHUP without waiting for the
// next poll, and discards the noise floor on SIGUSR1. w may be nil when hot
// reload is disabled.
func handleSignals(ctx context.Context, w *config.Watcher, ctrl *turn.Controller) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch {
			case sig == syscall.SIGUSR1:
				slog.Info("SIGUSR1: noise floor recalibration requested")
				ctrl.Recalibrate()
			case w == nil:
				slog.Warn("SIGHUP ignored, config hot reload is disabled")
			default:
				applied, err := w.Refresh()
				if err != nil {
					slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
					continue
				}
				slog.Info("SIGHUP reload", "applied", applied)
			}
		}
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/device"
	"github.com/MrWong99/voxturn/pkg/audio"
)

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices ranked by suitability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			backend, err := newBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			return listDevices(cmd.Context(), cmd.OutOrStdout(), cfg.Audio, backend, verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "run a trial capture on every candidate")
	return cmd
}

// newBackend creates only the capture backend named in cfg.
func newBackend(cfg *config.Config) (audio.Backend, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	backend, err := reg.CreateBackend(cfg.Audio.Backend)
	if err != nil {
		return nil, fmt.Errorf("create capture backend %q: %w", cfg.Audio.Backend, err)
	}
	return backend, nil
}

func listDevices(ctx context.Context, out io.Writer, cfg config.AudioConfig, backend audio.Backend, verify bool) error {
	catalog := device.New(backend,
		device.WithRates(cfg.Rates),
		device.WithTrialDuration(cfg.TrialDuration),
		device.WithChannels(cfg.Channels),
	)
	list := catalog.Candidates
	if verify {
		list = catalog.VerifyAll
	}
	cands, err := list(ctx)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		fmt.Fprintln(out, "no capture devices found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tNAME\tCHANNELS\tTRIAL")
	for _, r := range cands {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.Score, r.ID, r.Name, r.InputChannels, trialStatus(r, verify))
	}
	return tw.Flush()
}

func trialStatus(r device.Candidate, verified bool) string {
	switch {
	case !verified:
		return "-"
	case r.Verified:
		return fmt.Sprintf("ok @ %d Hz (energy %.4f)", r.SampleRate, r.TrialEnergy)
	case r.TrialErr != nil:
		return "failed: " + r.TrialErr.Error()
	default:
		return "failed"
	}
}

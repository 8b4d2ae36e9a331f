package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxturn/internal/app"
	"github.com/MrWong99/voxturn/pkg/provider/vad/energy"
)

func newCalibrateCmd(opts *rootOptions) *cobra.Command {
	var deviceName string
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the ambient noise floor on the selected microphone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if deviceName != "" {
				cfg.Audio.Device = deviceName
			}
			backend, err := newBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := cmd.Context()
			sel, err := app.SelectDevice(ctx, cfg.Audio, backend)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Calibrating %q at %d Hz, stay quiet...\n", sel.Device.Name, sel.SampleRate)

			cal, err := app.Calibrate(ctx, cfg, backend, energy.New(), sel)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "chunks:      %d\n", cal.Samples)
			fmt.Fprintf(out, "noise floor: %.5f\n", cal.NoiseFloor)
			fmt.Fprintf(out, "threshold:   %.5f (static minimum %.5f)\n", cal.Threshold, cfg.Detection.EnergyThreshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceName, "device", "", "override audio.device for this run")
	return cmd
}

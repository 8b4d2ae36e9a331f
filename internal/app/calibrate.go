package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxturn/internal/capture"
	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/device"
	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
)

// Calibrate captures from sel until a fresh detector session has derived its
// noise floor, and returns the resulting calibration. Nothing is recorded.
func Calibrate(ctx context.Context, cfg *config.Config, backend audio.Backend, engine vad.Engine, sel device.Selected) (vad.Calibration, error) {
	det, err := engine.NewSession(cfg.Detection.VAD())
	if err != nil {
		return vad.Calibration{}, fmt.Errorf("app: create vad session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := capture.NewQueue(cfg.Audio.QueueSize)
	pump := capture.NewPump(backend, sel.Device, audio.StreamConfig{
		SampleRate:     sel.SampleRate,
		Channels:       cfg.Audio.Channels,
		FramesPerChunk: cfg.Audio.FramesPerChunk(sel.SampleRate),
	}, q)
	pumpErr := make(chan error, 1)
	go func() { pumpErr <- pump.Run(ctx) }()

	for !det.Calibrated() {
		chunk, err := q.Next(ctx)
		if err != nil {
			cancel()
			if perr := <-pumpErr; perr != nil {
				return det.State(), perr
			}
			if errors.Is(err, capture.ErrClosed) {
				return det.State(), fmt.Errorf("app: capture ended after %d calibration chunks", det.State().Samples)
			}
			return det.State(), err
		}
		det.Calibrate(chunk)
	}
	cancel()
	<-pumpErr
	return det.State(), nil
}

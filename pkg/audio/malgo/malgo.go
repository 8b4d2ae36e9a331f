// Package malgo implements [audio.Backend] with miniaudio through
// github.com/gen2brain/malgo. It needs no system PortAudio installation and is
// the fallback capture backend on platforms where PortAudio is unavailable.
//
// miniaudio converts the device's native format, channel layout, and rate to
// whatever the stream requests, so every device is reported as mono-capable
// and the trial capture decides whether it actually works.
package malgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// Backend wraps one miniaudio context.
type Backend struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	devices []malgo.DeviceInfo
}

// New allocates a miniaudio context using the platform's default backends.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// ListDevices implements [audio.Backend].
func (b *Backend) ListDevices(_ context.Context) ([]audio.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, errors.New("malgo: backend closed")
	}
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list devices: %w", err)
	}
	b.devices = infos
	out := make([]audio.DeviceInfo, len(infos))
	for i, info := range infos {
		out[i] = audio.DeviceInfo{
			ID:            strconv.Itoa(i),
			Name:          info.Name(),
			InputChannels: 1,
			Index:         i,
		}
	}
	return out, nil
}

// OpenStream implements [audio.Backend].
func (b *Backend) OpenStream(_ context.Context, dev audio.DeviceInfo, cfg audio.StreamConfig, onChunk func(audio.Chunk)) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.FramesPerChunk <= 0 {
		return nil, fmt.Errorf("malgo: invalid stream config %+v", cfg)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	b.mu.Lock()
	if b.ctx == nil {
		b.mu.Unlock()
		return nil, errors.New("malgo: backend closed")
	}
	mctx := b.ctx.Context
	info, ok := b.lookup(dev)
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("malgo: device %q not found", dev.Name)
	}

	s := &stream{
		cfg:     cfg,
		onChunk: onChunk,
		pending: make([]float32, 0, cfg.FramesPerChunk*cfg.Channels),
		done:    make(chan struct{}),
		log:     slog.With("backend", "malgo", "device", dev.Name),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Capture.DeviceID = info.ID.Pointer()
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.FramesPerChunk)

	device, err := malgo.InitDevice(mctx, devCfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init device %q at %d Hz: %w", dev.Name, cfg.SampleRate, err)
	}
	s.device = device
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("malgo: start %q: %w", dev.Name, err)
	}
	return s, nil
}

// lookup resolves dev against the last enumeration. Callers hold b.mu.
func (b *Backend) lookup(dev audio.DeviceInfo) (malgo.DeviceInfo, bool) {
	if dev.Index >= 0 && dev.Index < len(b.devices) && b.devices[dev.Index].Name() == dev.Name {
		return b.devices[dev.Index], true
	}
	for _, info := range b.devices {
		if info.Name() == dev.Name {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

type stream struct {
	device  *malgo.Device
	cfg     audio.StreamConfig
	onChunk func(audio.Chunk)
	log     *slog.Logger

	// Touched only from the miniaudio data callback.
	pending []float32
	seq     uint64
	frames  int

	mu      sync.Mutex
	err     error
	closing bool

	done     chan struct{}
	doneOnce sync.Once
}

// onData runs on the miniaudio audio thread. It regroups the period-sized
// callbacks into chunks of exactly FramesPerChunk frames.
func (s *stream) onData(_, input []byte, _ uint32) {
	want := s.cfg.FramesPerChunk * s.cfg.Channels
	for off := 0; off+4 <= len(input); off += 4 {
		s.pending = append(s.pending, math.Float32frombits(binary.LittleEndian.Uint32(input[off:])))
		if len(s.pending) < want {
			continue
		}
		c := audio.Chunk{
			Samples:    s.pending,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Seq:        s.seq,
			Timestamp:  audio.FramesDuration(s.frames, s.cfg.SampleRate),
		}
		s.seq++
		s.frames += s.cfg.FramesPerChunk
		s.pending = make([]float32, 0, want)
		if s.onChunk != nil {
			s.onChunk(c)
		}
	}
}

func (s *stream) onStop() {
	s.mu.Lock()
	if !s.closing {
		s.err = errors.New("malgo: device stopped unexpectedly")
		s.log.Warn("capture device stopped")
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	var err error
	if stopErr := s.device.Stop(); stopErr != nil {
		err = fmt.Errorf("malgo: stop: %w", stopErr)
	}
	s.device.Uninit()
	s.doneOnce.Do(func() { close(s.done) })
	return err
}

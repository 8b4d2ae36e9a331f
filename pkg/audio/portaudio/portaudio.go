// Package portaudio implements [audio.Backend] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// Each open stream is served by one goroutine that performs blocking reads of
// FramesPerChunk frames and forwards every block to the chunk callback. An
// input overflow reported by PortAudio is logged and skipped; any other read
// error ends the stream and is reported through [audio.Stream.Err].
//
// PortAudio must be initialised once per process. [New] performs the
// initialisation and [Backend.Close] terminates the library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// Backend enumerates and opens PortAudio input devices.
type Backend struct {
	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio and returns a ready [Backend].
func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{}, nil
}

// ListDevices implements [audio.Backend]. Output-only devices are omitted.
func (b *Backend) ListDevices(_ context.Context) ([]audio.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	out := make([]audio.DeviceInfo, 0, len(devs))
	for _, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, audio.DeviceInfo{
			ID:                strconv.Itoa(d.Index),
			Name:              d.Name,
			InputChannels:     d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Index:             d.Index,
		})
	}
	return out, nil
}

// OpenStream implements [audio.Backend].
func (b *Backend) OpenStream(ctx context.Context, dev audio.DeviceInfo, cfg audio.StreamConfig, onChunk func(audio.Chunk)) (audio.Stream, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("portaudio: backend closed")
	}
	if cfg.SampleRate <= 0 || cfg.FramesPerChunk <= 0 {
		return nil, fmt.Errorf("portaudio: invalid stream config %+v", cfg)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	info, err := findDevice(dev)
	if err != nil {
		return nil, err
	}

	params := pa.LowLatencyParameters(info, nil)
	params.Input.Channels = cfg.Channels
	params.Output.Channels = 0
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerChunk

	buf := make([]float32, cfg.FramesPerChunk*cfg.Channels)
	raw, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %q at %d Hz: %w", dev.Name, cfg.SampleRate, err)
	}
	if err := raw.Start(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("portaudio: start %q: %w", dev.Name, err)
	}

	s := &stream{
		raw:     raw,
		buf:     buf,
		cfg:     cfg,
		onChunk: onChunk,
		done:    make(chan struct{}),
		log:     slog.With("backend", "portaudio", "device", dev.Name),
	}
	go s.readLoop()
	return s, nil
}

// Close implements [audio.Backend]. It terminates PortAudio; streams must be
// closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

func findDevice(dev audio.DeviceInfo) (*pa.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	idx, err := strconv.Atoi(dev.ID)
	if err != nil {
		idx = dev.Index
	}
	for _, d := range devs {
		if d.Index == idx && d.Name == dev.Name {
			return d, nil
		}
	}
	// Indices can shift after a hot-plug; fall back to the name.
	for _, d := range devs {
		if d.Name == dev.Name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: device %q not found", dev.Name)
}

// stream owns one PortAudio input stream and its read goroutine.
type stream struct {
	raw     *pa.Stream
	buf     []float32
	cfg     audio.StreamConfig
	onChunk func(audio.Chunk)
	log     *slog.Logger

	mu      sync.Mutex
	err     error
	closing bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *stream) readLoop() {
	defer close(s.done)
	var (
		seq    uint64
		frames int
	)
	for {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return
		}

		if err := s.raw.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				s.log.Debug("input overflowed")
				continue
			}
			s.mu.Lock()
			if !s.closing {
				s.err = fmt.Errorf("portaudio: read: %w", err)
			}
			s.mu.Unlock()
			return
		}

		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)
		c := audio.Chunk{
			Samples:    samples,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Seq:        seq,
			Timestamp:  audio.FramesDuration(frames, s.cfg.SampleRate),
		}
		seq++
		frames += s.cfg.FramesPerChunk
		if s.onChunk != nil {
			s.onChunk(c)
		}
	}
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and waits for the read goroutine to exit. Stopping
// unblocks a pending Read; the wait is bounded so a wedged driver cannot hang
// shutdown.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		if stopErr := s.raw.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop: %w", stopErr)
		}
		select {
		case <-s.done:
		case <-time.After(time.Second):
			s.log.Warn("read loop did not exit after stop")
		}
		if closeErr := s.raw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close: %w", closeErr)
		}
	})
	return err
}

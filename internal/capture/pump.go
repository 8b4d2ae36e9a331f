package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/pkg/audio"
)

const defaultReopenDelay = 250 * time.Millisecond

// errStreamEnded is reported when a stream stops without an error while the
// pump is still running.
var errStreamEnded = errors.New("stream ended unexpectedly")

// StreamError reports that the capture device failed mid-session and could
// not be reopened.
type StreamError struct {
	Device audio.DeviceInfo
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("capture: device %q: %v", e.Device.Name, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// PumpOption configures a [Pump].
type PumpOption func(*Pump)

// WithReopenDelay sets how long the pump waits before reopening a failed
// device. Zero reopens immediately.
func WithReopenDelay(d time.Duration) PumpOption {
	return func(p *Pump) { p.reopenDelay = d }
}

// WithMetrics records reopen attempts on m.
func WithMetrics(m *observe.Metrics) PumpOption {
	return func(p *Pump) { p.metrics = m }
}

// Pump captures from one device into a [Queue].
//
// Chunks are restamped so that Seq and Timestamp are continuous for the
// whole session, even across a reopen. When the stream fails the pump tries
// to reopen the same device once per failure; if that fails [Pump.Run]
// returns a *[StreamError].
type Pump struct {
	backend     audio.Backend
	device      audio.DeviceInfo
	cfg         audio.StreamConfig
	queue       *Queue
	reopenDelay time.Duration
	metrics     *observe.Metrics

	alive atomic.Bool

	mu     sync.Mutex
	seq    uint64
	frames int64
}

// NewPump returns a pump for dev. Run starts capturing.
func NewPump(backend audio.Backend, dev audio.DeviceInfo, cfg audio.StreamConfig, q *Queue, opts ...PumpOption) *Pump {
	p := &Pump{
		backend:     backend,
		device:      dev,
		cfg:         cfg,
		queue:       q,
		reopenDelay: defaultReopenDelay,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Device returns the device this pump captures from.
func (p *Pump) Device() audio.DeviceInfo { return p.device }

// Alive reports whether a capture stream is currently open.
func (p *Pump) Alive() bool { return p.alive.Load() }

// Run opens the device and forwards chunks until ctx is cancelled, in which
// case it returns nil. It closes the queue on return.
func (p *Pump) Run(ctx context.Context) error {
	defer p.queue.Close()

	stream, err := p.open(ctx)
	if err != nil {
		return &StreamError{Device: p.device, Err: err}
	}
	slog.Info("capture started",
		"device", p.device.Name,
		"sample_rate", p.cfg.SampleRate,
		"frames_per_chunk", p.cfg.FramesPerChunk,
	)

	for {
		select {
		case <-ctx.Done():
			p.alive.Store(false)
			if err := stream.Close(); err != nil {
				slog.Warn("capture stream close failed", "device", p.device.Name, "err", err)
			}
			return nil

		case <-stream.Done():
			p.alive.Store(false)
			cause := stream.Err()
			_ = stream.Close()
			if ctx.Err() != nil {
				return nil
			}
			if cause == nil {
				cause = errStreamEnded
			}
			slog.Warn("capture stream failed, reopening device", "device", p.device.Name, "err", cause)

			if err := sleepCtx(ctx, p.reopenDelay); err != nil {
				return nil
			}
			stream, err = p.open(ctx)
			if err != nil {
				p.recordReopen(ctx, "error")
				slog.Error("capture device lost", "device", p.device.Name, "err", err)
				return &StreamError{Device: p.device, Err: errors.Join(cause, err)}
			}
			p.recordReopen(ctx, "ok")
			slog.Info("capture stream reopened", "device", p.device.Name)
		}
	}
}

func (p *Pump) open(ctx context.Context) (audio.Stream, error) {
	s, err := p.backend.OpenStream(ctx, p.device, p.cfg, p.forward)
	if err != nil {
		return nil, err
	}
	p.alive.Store(true)
	return s, nil
}

// forward runs on the backend's capture goroutine.
func (p *Pump) forward(c audio.Chunk) {
	p.mu.Lock()
	c.Seq = p.seq
	p.seq++
	c.Timestamp = audio.FramesDuration(int(p.frames), c.SampleRate)
	p.frames += int64(c.Frames())
	p.mu.Unlock()

	if p.queue.Push(c) && p.metrics != nil {
		p.metrics.DroppedChunks.Add(context.Background(), 1)
	}
}

func (p *Pump) recordReopen(ctx context.Context, status string) {
	if p.metrics != nil {
		p.metrics.RecordStreamReopen(ctx, status)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

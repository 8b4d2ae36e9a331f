// Package oto implements [audio.Player] on github.com/ebitengine/oto/v3.
//
// oto allows exactly one context per process, so a [Player] owns that context
// for its whole lifetime. Replies are resampled to the context rate and fed to
// a fresh oto player per [Player.Play] call.
package oto

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// pollInterval is how often a playing handle checks for natural completion.
const pollInterval = 10 * time.Millisecond

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Option is a functional option for [New].
type Option func(*Player)

// WithBufferSize sets oto's internal buffer size. Smaller buffers lower the
// latency between Stop and silence.
func WithBufferSize(d time.Duration) Option {
	return func(p *Player) { p.bufferSize = d }
}

// Player plays replies through the default output device.
type Player struct {
	ctx        *oto.Context
	sampleRate int
	bufferSize time.Duration

	mu     sync.Mutex
	active *handle
	closed bool
}

// New creates the process-wide oto context at sampleRate (mono float32) and
// waits until the output device is ready.
func New(sampleRate int, opts ...Option) (*Player, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("oto: invalid sample rate %d", sampleRate)
	}
	p := &Player{sampleRate: sampleRate, bufferSize: 50 * time.Millisecond}
	for _, o := range opts {
		o(p)
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   p.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: new context: %w", err)
	}
	<-ready
	p.ctx = ctx
	return p, nil
}

// Play implements [audio.Player]. A reply that is still playing is stopped
// first; only one reply is audible at a time.
func (p *Player) Play(ctx context.Context, reply audio.Reply) (audio.PlaybackHandle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("oto: player closed")
	}
	prev := p.active
	p.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	samples := audio.Resample(reply.Samples, reply.SampleRate, p.sampleRate)
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}

	h := &handle{
		player: p.ctx.NewPlayer(bytes.NewReader(raw)),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	if err := h.player.Err(); err != nil {
		return nil, fmt.Errorf("oto: new player: %w", err)
	}
	h.player.Play()

	p.mu.Lock()
	p.active = h
	p.mu.Unlock()

	go h.watch(ctx)
	return h, nil
}

// Close stops any active playback. The oto context itself cannot be released
// and lives until process exit.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	active := p.active
	p.active = nil
	p.mu.Unlock()
	if active != nil {
		return active.Stop()
	}
	return nil
}

type handle struct {
	player *oto.Player

	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// watch waits for the reply to finish, the caller's context to end, or Stop.
func (h *handle) watch(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			h.halt()
			return
		case <-ctx.Done():
			h.halt()
			return
		case <-ticker.C:
			if err := h.player.Err(); err != nil {
				h.mu.Lock()
				h.err = fmt.Errorf("oto: playback: %w", err)
				h.mu.Unlock()
				h.halt()
				return
			}
			if !h.player.IsPlaying() {
				_ = h.player.Close()
				return
			}
		}
	}
}

// halt silences the player without draining oto's buffer.
func (h *handle) halt() {
	h.player.Pause()
	_ = h.player.Close()
}

func (h *handle) Stop() error {
	h.stopOnce.Do(func() { close(h.stop) })
	select {
	case <-h.done:
	case <-time.After(100 * time.Millisecond):
		return errors.New("oto: stop timed out")
	}
	return nil
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

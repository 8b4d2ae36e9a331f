// Package mock provides in-memory mock implementations of the [audio.Backend],
// [audio.Stream], [audio.Player], and [audio.PlaybackHandle] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	backend := &mock.Backend{
//	    Devices: []audio.DeviceInfo{{ID: "1", Name: "USB Microphone", InputChannels: 1}},
//	    Signal: func(dev audio.DeviceInfo, rate int) []float32 {
//	        return []float32{0.02, -0.02}
//	    },
//	}
//	stream, err := backend.OpenStream(ctx, backend.Devices[0], cfg, onChunk)
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// ─── Backend ──────────────────────────────────────────────────────────────────

// OpenStreamCall records a single invocation of [Backend.OpenStream].
type OpenStreamCall struct {
	Device audio.DeviceInfo
	Config audio.StreamConfig
}

// Backend is a mock implementation of [audio.Backend].
//
// OpenStream synchronously delivers ChunksPerOpen chunks built from Signal
// before returning, which makes trial captures deterministic. The returned
// [Stream] stays open until closed or failed by the test.
type Backend struct {
	mu sync.Mutex

	// Devices is returned by ListDevices.
	Devices []audio.DeviceInfo

	// ListErr, if non-nil, is returned by ListDevices.
	ListErr error

	// Signal returns the samples of each delivered chunk for dev at rate. A
	// nil return delivers no chunks. When Signal itself is nil, no chunks are
	// delivered.
	Signal func(dev audio.DeviceInfo, rate int) []float32

	// OpenErr, if non-nil, is consulted on every OpenStream call; a non-nil
	// result is returned as the error.
	OpenErr func(dev audio.DeviceInfo, rate int) error

	// ChunksPerOpen is the number of chunks delivered synchronously by each
	// OpenStream call. Defaults to 1.
	ChunksPerOpen int

	// OpenStreamCalls records every call to OpenStream.
	OpenStreamCalls []OpenStreamCall

	// Streams records every stream handed out, in order.
	Streams []*Stream

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ audio.Backend = (*Backend)(nil)

// ListDevices implements [audio.Backend].
func (b *Backend) ListDevices(_ context.Context) ([]audio.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	out := make([]audio.DeviceInfo, len(b.Devices))
	copy(out, b.Devices)
	return out, nil
}

// OpenStream implements [audio.Backend].
func (b *Backend) OpenStream(_ context.Context, dev audio.DeviceInfo, cfg audio.StreamConfig, onChunk func(audio.Chunk)) (audio.Stream, error) {
	b.mu.Lock()
	b.OpenStreamCalls = append(b.OpenStreamCalls, OpenStreamCall{Device: dev, Config: cfg})
	openErr, signal, n := b.OpenErr, b.Signal, b.ChunksPerOpen
	b.mu.Unlock()

	if openErr != nil {
		if err := openErr(dev, cfg.SampleRate); err != nil {
			return nil, err
		}
	}
	s := NewStream(onChunk, cfg)
	b.mu.Lock()
	b.Streams = append(b.Streams, s)
	b.mu.Unlock()

	if n <= 0 {
		n = 1
	}
	if signal != nil {
		for range n {
			if samples := signal(dev, cfg.SampleRate); samples != nil {
				s.Emit(samples)
			}
		}
	}
	return s, nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCalls++
	return nil
}

// LastStream returns the most recently opened stream, or nil.
func (b *Backend) LastStream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Streams) == 0 {
		return nil
	}
	return b.Streams[len(b.Streams)-1]
}

// OpenCount returns how many times OpenStream was called.
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.OpenStreamCalls)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests push audio with
// [Stream.Emit] and simulate device loss with [Stream.Fail].
type Stream struct {
	mu      sync.Mutex
	onChunk func(audio.Chunk)
	cfg     audio.StreamConfig
	seq     uint64
	frames  int
	err     error
	done    chan struct{}
	once    sync.Once

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns an open stream that forwards emitted samples to onChunk.
func NewStream(onChunk func(audio.Chunk), cfg audio.StreamConfig) *Stream {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Stream{onChunk: onChunk, cfg: cfg, done: make(chan struct{})}
}

// Emit delivers one chunk containing samples. It is a no-op after the stream
// has ended.
func (s *Stream) Emit(samples []float32) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	c := audio.Chunk{
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Seq:        s.seq,
		Timestamp:  audio.FramesDuration(s.frames, s.cfg.SampleRate),
	}
	s.seq++
	s.frames += len(samples) / s.cfg.Channels
	cb := s.onChunk
	s.mu.Unlock()
	if cb != nil {
		cb(c)
	}
}

// Fail ends the stream with err, as if the device disappeared.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Done implements [audio.Stream].
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close was called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player]. Each Play call returns a
// fresh [Handle] that stays open until the test calls [Handle.Finish] or the
// code under test calls Stop.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Played records every reply passed to Play.
	Played []audio.Reply

	// Handles records every handle returned by Play.
	Handles []*Handle

	// CloseCalls counts Close invocations.
	CloseCalls int

	// started is signalled (non-blocking) whenever Play succeeds.
	started chan struct{}
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, reply audio.Reply) (audio.PlaybackHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Played = append(p.Played, reply)
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}
	h := &Handle{done: make(chan struct{})}
	p.Handles = append(p.Handles, h)
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	return h, nil
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}

// Started returns a channel that receives a value each time Play succeeds.
// Call before the code under test starts playing.
func (p *Player) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 16)
	}
	return p.started
}

// LastHandle returns the most recent handle, or nil.
func (p *Player) LastHandle() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Handles) == 0 {
		return nil
	}
	return p.Handles[len(p.Handles)-1]
}

// PlayCount returns the number of Play calls.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// ErrPlaybackFailed is a convenience error for [Handle.FinishWithError].
var ErrPlaybackFailed = errors.New("mock: playback failed")

// Handle is a mock implementation of [audio.PlaybackHandle].
type Handle struct {
	mu        sync.Mutex
	done      chan struct{}
	once      sync.Once
	err       error
	stopCalls int
}

var _ audio.PlaybackHandle = (*Handle)(nil)

// Stop implements [audio.PlaybackHandle].
func (h *Handle) Stop() error {
	h.mu.Lock()
	h.stopCalls++
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
	return nil
}

// Done implements [audio.PlaybackHandle].
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err implements [audio.PlaybackHandle].
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Finish ends playback naturally.
func (h *Handle) Finish() {
	h.once.Do(func() { close(h.done) })
}

// FinishWithError ends playback with a failure.
func (h *Handle) FinishWithError(err error) {
	h.mu.Lock()
	h.err = fmt.Errorf("mock: %w", err)
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

// StopCalls returns how many times Stop was called.
func (h *Handle) StopCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCalls
}

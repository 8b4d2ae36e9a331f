// Package capture moves audio from a capture [audio.Stream] to the turn
// engine. A [Pump] owns the stream, restamps chunks with session-wide
// sequence numbers, and recovers from a single device failure by reopening
// the device once. Chunks travel through a bounded [Queue] that drops the
// oldest entry when the consumer falls behind, so the capture callback never
// blocks.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// DefaultQueueSize holds roughly five seconds of 50ms chunks.
const DefaultQueueSize = 100

// ErrClosed is returned by [Queue.Next] once the queue is closed and drained.
var ErrClosed = errors.New("capture: queue closed")

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithDropHook registers fn to be called with every chunk evicted from a full
// queue. fn runs on the producer goroutine and must not block.
func WithDropHook(fn func(audio.Chunk)) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

// Queue is a bounded FIFO of chunks. Push never blocks: when the queue is
// full the oldest chunk is discarded to make room. All methods are safe for
// concurrent use; order is preserved for a single producer.
type Queue struct {
	ch      chan audio.Chunk
	onDrop  func(audio.Chunk)
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewQueue returns a queue holding at most size chunks. A non-positive size
// selects [DefaultQueueSize].
func NewQueue(size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{ch: make(chan audio.Chunk, size)}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues c and reports whether an older chunk had to be dropped.
// Pushing to a closed queue is a no-op.
func (q *Queue) Push(c audio.Chunk) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for {
		select {
		case q.ch <- c:
			return dropped
		default:
		}
		select {
		case old := <-q.ch:
			dropped = true
			q.dropped.Add(1)
			slog.Warn("capture queue full, dropped oldest chunk", "seq", old.Seq)
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
			// The consumer drained a slot between the two selects.
		}
	}
}

// Next blocks until a chunk is available, ctx is done, or the queue is closed
// and empty.
func (q *Queue) Next(ctx context.Context) (audio.Chunk, error) {
	select {
	case c, ok := <-q.ch:
		if !ok {
			return audio.Chunk{}, ErrClosed
		}
		return c, nil
	case <-ctx.Done():
		return audio.Chunk{}, ctx.Err()
	}
}

// C exposes the receive side of the queue for use in select statements. The
// channel is closed by [Queue.Close].
func (q *Queue) C() <-chan audio.Chunk { return q.ch }

// Len returns the number of buffered chunks.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the number of chunks discarded since creation.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close stops accepting chunks. Buffered chunks remain readable. Safe to call
// more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

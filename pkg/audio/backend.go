package audio

import "context"

// DeviceInfo describes a capture endpoint as reported by a [Backend]. The
// declared capabilities are advisory; only a trial capture proves that a
// device actually delivers audio.
type DeviceInfo struct {
	// ID is the backend-specific identifier passed back to OpenStream.
	ID string

	// Name is the human-readable device name used for scoring.
	Name string

	// InputChannels is the maximum number of input channels the device declares.
	InputChannels int

	// DefaultSampleRate is the device's preferred rate in Hz, if known.
	DefaultSampleRate float64

	// Index is the position of the device in the backend's enumeration order.
	Index int
}

// StreamConfig configures a capture stream.
type StreamConfig struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels to capture (usually 1).
	Channels int

	// FramesPerChunk is the number of sample frames delivered per callback.
	FramesPerChunk int
}

// Stream is an open capture stream. Chunks are delivered to the callback
// supplied to [Backend.OpenStream] in capture order from a single goroutine.
type Stream interface {
	// Done is closed when the stream stops delivering chunks, either because
	// Close was called or because the device failed.
	Done() <-chan struct{}

	// Err returns the failure that ended the stream, or nil if it was closed
	// normally or is still running.
	Err() error

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// Backend enumerates capture devices and opens streams on them. The callback
// passed to OpenStream runs on the capture path and must not block.
type Backend interface {
	// ListDevices returns all endpoints that can capture audio, in the
	// backend's native enumeration order.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenStream starts capture on dev. onChunk receives each chunk; the Seq
	// and Timestamp fields are stream-relative and may be restamped by the caller.
	OpenStream(ctx context.Context, dev DeviceInfo, cfg StreamConfig, onChunk func(Chunk)) (Stream, error)

	// Close releases backend-wide resources.
	Close() error
}

// Package journal records what happened in a conversation session: each
// transcribed utterance, each spoken reply, interrupts, collaborator failures
// and the final hangup. Entries are queued without blocking the caller and
// written to a [Store] by a single background writer.
package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindUtterance Kind = "utterance"
	KindReply     Kind = "reply"
	KindInterrupt Kind = "interrupt"
	KindError     Kind = "error"
	KindHangup    Kind = "hangup"
)

// Session describes one run of the turn loop.
type Session struct {
	ID         uuid.UUID
	Device     string
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Entry is one journal record. TurnID groups the utterance, reply and any
// interrupt or error that belong to the same exchange.
type Entry struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	TurnID    uuid.UUID
	Kind      Kind
	Text      string
	Detail    string
	Duration  time.Duration
	At        time.Time

	// Audio holds the Opus archive of the utterance, if archiving is enabled.
	// See [EncodeArchive] for the framing.
	Audio []byte
}

// Store persists sessions and their entries.
type Store interface {
	StartSession(ctx context.Context, s Session) error
	EndSession(ctx context.Context, id uuid.UUID, at time.Time) error
	Append(ctx context.Context, e Entry) error
	Entries(ctx context.Context, sessionID uuid.UUID) ([]Entry, error)
	Close()
}

// DefaultQueueSize is the number of entries buffered before new ones are dropped.
const DefaultQueueSize = 256

// Option configures a [Journal].
type Option func(*Journal)

// WithArchive enables Opus archiving of utterance audio.
func WithArchive(a *Archiver) Option {
	return func(j *Journal) { j.archive = a }
}

// WithQueueSize overrides [DefaultQueueSize].
func WithQueueSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.queue = make(chan queued, n)
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// queued is an entry waiting for the writer. utt carries the audio still to
// be archived into the entry.
type queued struct {
	Entry
	utt *audio.Utterance
}

// Journal is the session-scoped recorder used by the turn controller. All
// record methods are safe for concurrent use and never block.
type Journal struct {
	store   Store
	archive *Archiver
	session Session
	queue   chan queued
	now     func() time.Time

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	dropped   int
}

// New creates a Journal for a fresh session on store.
func New(store Store, device string, sampleRate int, opts ...Option) (*Journal, error) {
	if store == nil {
		return nil, errors.New("journal: store must not be nil")
	}
	j := &Journal{
		store:  store,
		queue:  make(chan queued, DefaultQueueSize),
		now:    time.Now,
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	j.session = Session{
		ID:         uuid.New(),
		Device:     device,
		SampleRate: sampleRate,
		StartedAt:  j.now(),
	}
	return j, nil
}

// SessionID returns the identifier of the journaled session.
func (j *Journal) SessionID() uuid.UUID { return j.session.ID }

// Utterance records a transcribed utterance. When archiving is enabled the
// writer Opus-encodes the utterance audio into the entry.
func (j *Journal) Utterance(turn uuid.UUID, u *audio.Utterance, text string) {
	q := queued{Entry: Entry{TurnID: turn, Kind: KindUtterance, Text: text}}
	if u != nil {
		q.Duration = u.Duration
		q.Detail = string(u.Reason)
		if j.archive != nil {
			q.utt = u
		}
	}
	j.push(q)
}

// Reply records a reply that started playing.
func (j *Journal) Reply(turn uuid.UUID, r audio.Reply) {
	j.enqueue(Entry{TurnID: turn, Kind: KindReply, Text: r.Text, Duration: r.Duration()})
	if r.Hangup {
		j.enqueue(Entry{TurnID: turn, Kind: KindHangup, Text: r.Text})
	}
}

// Interrupt records a barge-in at offset into the reply.
func (j *Journal) Interrupt(turn uuid.UUID, offset time.Duration, detail string) {
	j.enqueue(Entry{TurnID: turn, Kind: KindInterrupt, Duration: offset, Detail: detail})
}

// Error records a recoverable collaborator failure.
func (j *Journal) Error(turn uuid.UUID, err error) {
	if err == nil {
		return
	}
	j.enqueue(Entry{TurnID: turn, Kind: KindError, Detail: err.Error()})
}

// Dropped returns how many entries were discarded because the queue was full.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

func (j *Journal) enqueue(e Entry) { j.push(queued{Entry: e}) }

func (j *Journal) push(q queued) {
	q.ID = uuid.New()
	q.SessionID = j.session.ID
	q.At = j.now()
	select {
	case <-j.closed:
		return
	default:
	}
	select {
	case j.queue <- q:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
		slog.Warn("journal: queue full, dropping entry", "kind", q.Kind, "turn", q.TurnID)
	}
}

// Run opens the session in the store and writes queued entries until ctx is
// cancelled. Entries still queued at cancellation are flushed with a short
// grace period before the session is closed.
func (j *Journal) Run(ctx context.Context) error {
	if err := j.store.StartSession(ctx, j.session); err != nil {
		return err
	}
	for {
		select {
		case q := <-j.queue:
			j.write(ctx, q)
		case <-ctx.Done():
			j.closeOnce.Do(func() { close(j.closed) })
			return j.drain()
		}
	}
}

func (j *Journal) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case q := <-j.queue:
			j.write(ctx, q)
		default:
			return j.store.EndSession(ctx, j.session.ID, j.now())
		}
	}
}

func (j *Journal) write(ctx context.Context, q queued) {
	e := q.Entry
	if q.utt != nil {
		data, err := j.archive.Encode(q.utt.Mono(), q.utt.SampleRate)
		if err != nil {
			slog.Warn("journal: archive utterance", "turn", e.TurnID, "err", err)
		} else {
			e.Audio = data
		}
	}
	if err := j.store.Append(ctx, e); err != nil {
		slog.Warn("journal: append failed", "kind", e.Kind, "turn", e.TurnID, "err", err)
	}
}

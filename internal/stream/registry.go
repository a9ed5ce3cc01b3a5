// Package stream multiplexes a generation's incremental reasoning output
// to zero or one subscribers. Events published while nobody is listening
// land in a bounded replay buffer; a subscriber first receives the buffer,
// then live events, until a terminal event closes the stream. Attaching a
// second subscriber detaches the first instead of erroring.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind labels a reasoning stream event.
type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindStatus    Kind = "status"
	KindComplete  Kind = "complete"
	KindError     Kind = "error"
)

// Event is one unit of side-channel output during a generation.
type Event struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// bufferLimit bounds the replay buffer; the oldest events are dropped
// first once it is full.
const bufferLimit = 256

// subscriberBuffer sizes the live channel. A subscriber that stalls
// longer than this loses live events but can still see them in a replay.
const subscriberBuffer = 64

// Stream is the event feed for a single generation.
type Stream struct {
	mu     sync.Mutex
	buf    []Event
	closed bool
	sub    chan Event
}

// Publish appends an event to the buffer and forwards it to the live
// subscriber, if any. Publishing to a closed stream is a no-op.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.appendLocked(ev)
	s.forwardLocked(ev)
}

// Close publishes a terminal event and closes the stream. The live
// subscriber's channel is closed after the terminal event is delivered.
func (s *Stream) Close(terminal Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.appendLocked(terminal)
	s.forwardLocked(terminal)
	s.closed = true
	if s.sub != nil {
		close(s.sub)
		s.sub = nil
	}
}

// Closed reports whether a terminal event was published.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe attaches the caller as the stream's only subscriber and
// returns the replay buffer plus a live channel. A previously attached
// subscriber is detached (its channel closed). The cancel function
// detaches this subscriber without affecting publication; it is safe to
// call after the stream closed.
func (s *Stream) Subscribe() (replay []Event, live <-chan Event, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay = make([]Event, len(s.buf))
	copy(replay, s.buf)

	if s.closed {
		done := make(chan Event)
		close(done)
		return replay, done, func() {}
	}

	if s.sub != nil {
		close(s.sub)
	}
	ch := make(chan Event, subscriberBuffer)
	s.sub = ch

	cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sub == ch {
			close(s.sub)
			s.sub = nil
		}
	}
	return replay, ch, cancel
}

func (s *Stream) appendLocked(ev Event) {
	s.buf = append(s.buf, ev)
	if len(s.buf) > bufferLimit {
		s.buf = s.buf[len(s.buf)-bufferLimit:]
	}
}

// forwardLocked never blocks: a full subscriber channel drops the live
// event, which remains available through the replay buffer.
func (s *Stream) forwardLocked(ev Event) {
	if s.sub == nil {
		return
	}
	select {
	case s.sub <- ev:
	default:
	}
}

type registryEntry struct {
	stream *Stream
	// expiresAt is zero while the stream is open; the TTL clock starts at
	// the first sweep that observes the stream closed.
	expiresAt time.Time
}

// Registry is the global reasoning-stream table, keyed by unguessable
// token. Open streams never expire (the generation timeout guarantees
// every stream is eventually closed); closed streams are reaped ttl after
// closing. Expired entries are reaped on access.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*registryEntry
	now     func() time.Time
}

// NewRegistry creates a Registry whose streams live for ttl after closing.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]*registryEntry),
		now:     time.Now,
	}
}

// Open registers a new stream and returns its token.
func (r *Registry) Open() (string, *Stream) {
	token := uuid.NewString()
	s := &Stream{}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.entries[token] = &registryEntry{stream: s}
	return token, s
}

// Get returns the stream for token, if it is still live.
func (r *Registry) Get(token string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	e, ok := r.entries[token]
	if !ok {
		return nil, false
	}
	return e.stream, true
}

// Len reports the number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.entries)
}

func (r *Registry) sweepLocked() {
	now := r.now()
	for token, e := range r.entries {
		if !e.stream.Closed() {
			continue
		}
		if e.expiresAt.IsZero() {
			e.expiresAt = now.Add(r.ttl)
			continue
		}
		if !e.expiresAt.After(now) {
			delete(r.entries, token)
		}
	}
}

// Package pending holds finished render results until the client that
// received the loading shell comes back for them. Every entry is one-shot:
// the first successful read consumes it, and resolved entries expire a
// fixed TTL after completion. In-flight entries never expire: the
// generation timeout guarantees every minted token is eventually resolved,
// so a poll during a long generation keeps observing StatusPending instead
// of losing the result. Expired entries are reaped on access, not by a
// background timer.
package pending

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status classifies the outcome of a Take.
type Status int

const (
	// StatusNotFound means the token is unknown, expired, or already
	// consumed. A legitimate outcome of the one-shot contract, not an
	// error condition.
	StatusNotFound Status = iota
	// StatusPending means the token is live but generation has not
	// finished yet.
	StatusPending
	// StatusReady means the document was returned and the entry removed.
	StatusReady
)

type entry struct {
	html  string
	ready bool
	// expiresAt is zero while the generation is in flight; Resolve starts
	// the TTL clock.
	expiresAt time.Time
}

// Store is the global pending-result registry, keyed by unguessable token.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry
	now     func() time.Time
}

// New creates a Store whose resolved entries live for ttl after resolution.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Mint registers a fresh token for a generation that just started.
func (s *Store) Mint() string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[token] = &entry{}
	return token
}

// Resolve stores the finished document under token and starts the entry's
// expiry clock. It reports false when the token is unknown (already
// consumed, or resolved twice), in which case the document is dropped.
func (s *Store) Resolve(token, html string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	e, ok := s.entries[token]
	if !ok || e.ready {
		return false
	}
	e.html = html
	e.ready = true
	e.expiresAt = s.now().Add(s.ttl)
	return true
}

// Take retrieves and removes the document for token. The first ready read
// wins; later reads observe StatusNotFound.
func (s *Store) Take(token string) (string, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	e, ok := s.entries[token]
	if !ok {
		return "", StatusNotFound
	}
	if !e.ready {
		return "", StatusPending
	}
	delete(s.entries, token)
	return e.html, StatusReady
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

func (s *Store) sweepLocked() {
	now := s.now()
	for token, e := range s.entries {
		if e.ready && !e.expiresAt.After(now) {
			delete(s.entries, token)
		}
	}
}

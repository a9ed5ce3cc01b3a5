// Package session owns the live visitor sessions. Each session holds one
// or more branches; each branch is an append-only, time-ordered turn
// history plus the last rendered document. Sessions expire on a sliding
// TTL and are evicted least-recently-touched first when the store is over
// capacity.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// DefaultBranchID is the branch used when a request names none.
const DefaultBranchID = "main"

// ErrNotFound is returned when the addressed session no longer exists,
// typically because it was evicted between resolve and commit.
var ErrNotFound = errors.New("session not found")

// BranchContext is the read view handed to the orchestrator: the branch's
// turns, its last rendered document, and the fragment tables folded over
// the whole turn history.
type BranchContext struct {
	SessionID    string
	BranchID     string
	Turns        []domain.Turn
	LastDocument string
	Tables       domain.FragmentTables
}

type branch struct {
	id           string
	turns        []domain.Turn
	lastDocument string
}

type session struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	touchedAt time.Time
	seq       uint64
	branches  map[string]*branch
	// removed marks a session evicted between a registry lookup and the
	// session lock being taken; writers must not touch the orphan.
	removed bool
}

// Store is the in-memory session registry. The store lock guards the
// registry map and touch/eviction bookkeeping; each session carries its own
// lock so commits on different sessions never contend, and a session can
// never be evicted mid-commit.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	sessions map[string]*session
	nextSeq  uint64
	now      func() time.Time
}

// New creates a Store. ttl <= 0 disables expiry; capacity <= 0 disables the
// size cap.
func New(ttl time.Duration, capacity int) *Store {
	return &Store{
		ttl:      ttl,
		capacity: capacity,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// ResolveOrCreate returns the session bound to cookieValue if it is live
// and unexpired, minting a fresh session otherwise. The touch slides the
// TTL window and triggers an eviction sweep.
func (st *Store) ResolveOrCreate(cookieValue string) (id string, created bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.sweepLocked(now)

	if cookieValue != "" {
		if s, ok := st.sessions[cookieValue]; ok {
			s.touchedAt = now
			return s.id, false
		}
	}

	s := &session{
		id:        newSessionID(),
		createdAt: now,
		touchedAt: now,
		seq:       st.nextSeq,
		branches:  make(map[string]*branch),
	}
	st.nextSeq++
	st.sessions[s.id] = s
	st.evictLocked()
	return s.id, true
}

// Context reads the addressed branch. An unknown or still-unborn branch
// yields an empty context rather than an error: the first turn of a branch
// necessarily starts from nothing.
func (st *Store) Context(sessionID, branchID string) (BranchContext, error) {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	st.mu.Unlock()
	if !ok {
		return BranchContext{}, fmt.Errorf("context for %q: %w", sessionID, ErrNotFound)
	}
	if branchID == "" {
		branchID = DefaultBranchID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return BranchContext{}, fmt.Errorf("context for %q: %w", sessionID, ErrNotFound)
	}

	ctx := BranchContext{
		SessionID: sessionID,
		BranchID:  branchID,
		Tables:    domain.NewFragmentTables(),
	}
	b, ok := s.branches[branchID]
	if !ok {
		return ctx, nil
	}
	ctx.Turns = make([]domain.Turn, len(b.turns))
	copy(ctx.Turns, b.turns)
	ctx.LastDocument = b.lastDocument
	// Fold oldest to newest so the most recent turn wins on id collision.
	for _, turn := range b.turns {
		ctx.Tables.Merge(turn.Fragments)
	}
	return ctx, nil
}

// CommitTurn appends a turn to the addressed branch, creating the branch on
// first use, and updates the branch's last rendered document.
func (st *Store) CommitTurn(sessionID, branchID string, turn domain.Turn) error {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	if ok {
		s.touchedAt = st.now()
		st.sweepLocked(st.now())
		st.evictLocked()
	}
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("commit to %q: %w", sessionID, ErrNotFound)
	}
	if branchID == "" {
		branchID = DefaultBranchID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The session can be evicted between the registry lookup above and
	// this lock; committing to the orphan would silently drop the turn.
	if s.removed {
		return fmt.Errorf("commit to %q: %w", sessionID, ErrNotFound)
	}
	b, ok := s.branches[branchID]
	if !ok {
		b = &branch{id: branchID}
		s.branches[branchID] = b
	}
	turn.BranchID = branchID
	b.turns = append(b.turns, turn)
	b.lastDocument = turn.HTML
	return nil
}

// Evict removes expired sessions and, if the store is still over capacity,
// the least-recently-touched sessions until it is not.
func (st *Store) Evict() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sweepLocked(st.now())
	st.evictLocked()
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) sweepLocked(now time.Time) {
	if st.ttl <= 0 {
		return
	}
	for id, s := range st.sessions {
		if now.Sub(s.touchedAt) > st.ttl {
			st.removeLocked(id, s)
		}
	}
}

func (st *Store) evictLocked() {
	if st.capacity <= 0 {
		return
	}
	for len(st.sessions) > st.capacity {
		var victim *session
		for _, s := range st.sessions {
			if victim == nil || olderThan(s, victim) {
				victim = s
			}
		}
		if victim == nil {
			return
		}
		st.removeLocked(victim.id, victim)
	}
}

// removeLocked takes the session lock before deleting so an in-flight
// commit on the same session finishes first.
func (st *Store) removeLocked(id string, s *session) {
	s.mu.Lock()
	s.removed = true
	delete(st.sessions, id)
	s.mu.Unlock()
}

// olderThan orders sessions by last touch, ties broken by insertion order.
func olderThan(a, b *session) bool {
	if !a.touchedAt.Equal(b.touchedAt) {
		return a.touchedAt.Before(b.touchedAt)
	}
	return a.seq < b.seq
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("session id entropy unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

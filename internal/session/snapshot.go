package session

import (
	"sort"
	"time"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// Snapshot is the serializable Session → Branch → Turn view used by the
// admin surface for history export and import.
type Snapshot struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Sessions   []SessionSnapshot `json:"sessions"`
}

// SessionSnapshot mirrors one live session.
type SessionSnapshot struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	TouchedAt time.Time        `json:"touched_at"`
	Branches  []BranchSnapshot `json:"branches"`
}

// BranchSnapshot mirrors one branch.
type BranchSnapshot struct {
	ID           string        `json:"id"`
	Turns        []domain.Turn `json:"turns"`
	LastDocument string        `json:"last_document,omitempty"`
}

// Export returns a stable-ordered snapshot of every live session.
func (st *Store) Export() Snapshot {
	st.mu.Lock()
	sessions := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })

	snap := Snapshot{Version: 1, ExportedAt: st.now()}
	for _, s := range sessions {
		s.mu.Lock()
		ss := SessionSnapshot{ID: s.id, CreatedAt: s.createdAt, TouchedAt: s.touchedAt}
		branchIDs := make([]string, 0, len(s.branches))
		for id := range s.branches {
			branchIDs = append(branchIDs, id)
		}
		sort.Strings(branchIDs)
		for _, id := range branchIDs {
			b := s.branches[id]
			turns := make([]domain.Turn, len(b.turns))
			copy(turns, b.turns)
			ss.Branches = append(ss.Branches, BranchSnapshot{
				ID:           id,
				Turns:        turns,
				LastDocument: b.lastDocument,
			})
		}
		s.mu.Unlock()
		snap.Sessions = append(snap.Sessions, ss)
	}
	return snap
}

// Import merges a snapshot into the store. Imported sessions keep their
// ids so an exported cookie keeps working; an existing session with the
// same id is replaced wholesale. The usual eviction rules apply afterward.
func (st *Store) Import(snap Snapshot) {
	now := st.now()

	st.mu.Lock()
	for _, ss := range snap.Sessions {
		s := &session{
			id:        ss.ID,
			createdAt: ss.CreatedAt,
			touchedAt: now,
			seq:       st.nextSeq,
			branches:  make(map[string]*branch),
		}
		st.nextSeq++
		for _, bs := range ss.Branches {
			turns := make([]domain.Turn, len(bs.Turns))
			copy(turns, bs.Turns)
			last := bs.LastDocument
			if last == "" && len(turns) > 0 {
				last = turns[len(turns)-1].HTML
			}
			s.branches[bs.ID] = &branch{id: bs.ID, turns: turns, lastDocument: last}
		}
		st.sessions[s.id] = s
	}
	st.evictLocked()
	st.mu.Unlock()
}

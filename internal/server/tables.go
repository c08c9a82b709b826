package server

import (
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"arena-server/internal/game"
)

// Presence links an authenticated connection to its account and, while in a
// match, to its session
type Presence struct {
	ConnID   string
	Username string
	conn     *Conn

	mu        sync.Mutex
	sessionID string
	gone      bool
}

// SessionID returns the active session, or ""
func (p *Presence) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// link attaches the presence to a session. It fails once the connection has
// left or when it is already in another session.
func (p *Presence) link(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone || p.sessionID != "" {
		return false
	}
	p.sessionID = sessionID
	return true
}

// enqueueIfIdle adds e to q unless the presence has left or is in a session.
// The check and the insert happen under the presence lock, so they cannot
// interleave with link.
func (p *Presence) enqueueIfIdle(q *WaitingQueue, e WaitingEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone || p.sessionID != "" {
		return false
	}
	return q.Enqueue(e)
}

// unlink clears the session only if it still points at sessionID
func (p *Presence) unlink(sessionID string) {
	p.mu.Lock()
	if p.sessionID == sessionID {
		p.sessionID = ""
	}
	p.mu.Unlock()
}

// leave marks the presence dead and returns the session it was in
func (p *Presence) leave() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gone = true
	sid := p.sessionID
	p.sessionID = ""
	return sid
}

// WaitingEntry is a player seeking a match
type WaitingEntry struct {
	ConnID   string
	Username string
	Level    int
	Since    time.Time
}

// FindPair scans entries in order and returns the indices of the first pair
// whose levels differ by at most gap
func FindPair(entries []WaitingEntry, gap int) (int, int, bool) {
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := entries[i].Level - entries[j].Level
			if d < 0 {
				d = -d
			}
			if d <= gap {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// WaitingQueue is the insertion-ordered matchmaking queue
type WaitingQueue struct {
	mu      sync.Mutex
	entries []WaitingEntry
}

func NewWaitingQueue() *WaitingQueue {
	return &WaitingQueue{}
}

// Enqueue appends e unless its connection is already waiting
func (q *WaitingQueue) Enqueue(e WaitingEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, x := range q.entries {
		if x.ConnID == e.ConnID {
			return false
		}
	}
	q.entries = append(q.entries, e)
	return true
}

// Remove drops the connection's entry, reporting whether it was there
func (q *WaitingQueue) Remove(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, x := range q.entries {
		if x.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// TakePair removes and returns the first compatible pair
func (q *WaitingQueue) TakePair(gap int) (WaitingEntry, WaitingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, j, ok := FindPair(q.entries, gap)
	if !ok {
		return WaitingEntry{}, WaitingEntry{}, false
	}
	a, b := q.entries[i], q.entries[j]
	q.entries = append(q.entries[:j], q.entries[j+1:]...)
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return a, b, true
}

func (q *WaitingQueue) Contains(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, x := range q.entries {
		if x.ConnID == connID {
			return true
		}
	}
	return false
}

func (q *WaitingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// sessionModifiers holds the live pickups of one session, keyed by
// game.ModifierID
type sessionModifiers struct {
	mu     sync.Mutex
	byID   map[string]game.Modifier
	closed bool
}

// ModifierTable keys live modifiers by session, then modifier id
type ModifierTable struct {
	sessions cmap.ConcurrentMap[string, *sessionModifiers]
}

func NewModifierTable() *ModifierTable {
	return &ModifierTable{sessions: cmap.New[*sessionModifiers]()}
}

func (t *ModifierTable) session(sessionID string) *sessionModifiers {
	return t.sessions.Upsert(sessionID, nil, func(exist bool, inMap, _ *sessionModifiers) *sessionModifiers {
		if exist {
			return inMap
		}
		return &sessionModifiers{byID: make(map[string]game.Modifier)}
	})
}

// Add inserts m if its kind is below capPerKind and the position is free
func (t *ModifierTable) Add(m game.Modifier, capPerKind int) bool {
	sm := t.session(m.SessionID)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return false
	}
	id := m.ID()
	if _, taken := sm.byID[id]; taken {
		return false
	}
	n := 0
	for _, x := range sm.byID {
		if x.Kind == m.Kind {
			n++
		}
	}
	if n >= capPerKind {
		return false
	}
	sm.byID[id] = m
	return true
}

// Remove deletes the modifier at pos
func (t *ModifierTable) Remove(sessionID string, pos game.Position) (game.Modifier, bool) {
	sm, ok := t.sessions.Get(sessionID)
	if !ok {
		return game.Modifier{}, false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	id := game.ModifierID(sessionID, pos)
	m, ok := sm.byID[id]
	if !ok {
		return game.Modifier{}, false
	}
	delete(sm.byID, id)
	return m, true
}

// Counts returns live modifiers per kind for a session
func (t *ModifierTable) Counts(sessionID string) map[game.ModifierKind]int {
	counts := make(map[game.ModifierKind]int, len(game.ModifierKinds))
	sm, ok := t.sessions.Get(sessionID)
	if !ok {
		return counts
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, m := range sm.byID {
		counts[m.Kind]++
	}
	return counts
}

// DeleteSession drops every modifier of a session
func (t *ModifierTable) DeleteSession(sessionID string) int {
	sm, ok := t.sessions.Pop(sessionID)
	if !ok {
		return 0
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closed = true
	n := len(sm.byID)
	sm.byID = nil
	return n
}

// Total counts live modifiers across sessions
func (t *ModifierTable) Total() int {
	total := 0
	for _, sm := range t.sessions.Items() {
		sm.mu.Lock()
		total += len(sm.byID)
		sm.mu.Unlock()
	}
	return total
}

package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"arena-server/internal/events"
	"arena-server/internal/game"
	"arena-server/internal/network"
)

// EndReason says which path tore a session down
type EndReason string

const (
	EndTimeout    EndReason = events.ReasonTimeout
	EndForfeit    EndReason = events.ReasonForfeit
	EndDisconnect EndReason = events.ReasonDisconnect
	EndShutdown   EndReason = events.ReasonShutdown
)

// Participant is one side of a session
type Participant struct {
	ConnID   string
	Username string
	Score    int
}

// Session is a live match. Scores are only read or written under mu, and
// broadcasts that carry them are queued under the same lock so both players
// observe updates in mutation order.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	players [2]Participant
	started time.Time
	ended   bool
}

func newSession(a, b WaitingEntry) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id.String(),
		CreatedAt: time.Now(),
		players: [2]Participant{
			{ConnID: a.ConnID, Username: a.Username},
			{ConnID: b.ConnID, Username: b.Username},
		},
	}, nil
}

// Players returns a snapshot of both participants
func (s *Session) Players() [2]Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players
}

// SlotOf returns 0 or 1 for a participant's connection, or -1
func (s *Session) SlotOf(connID string) int {
	for i := range s.players {
		if s.players[i].ConnID == connID {
			return i
		}
	}
	return -1
}

// ResolveSlot maps a wire identifier to a slot: either a participant's
// connection id or a slot name
func (s *Session) ResolveSlot(id string) int {
	switch id {
	case game.SlotPlayer1:
		return 0
	case game.SlotPlayer2:
		return 1
	}
	return s.SlotOf(id)
}

// live reports whether play has started and not ended. Call with mu held.
func (s *Session) live() bool {
	return !s.started.IsZero() && !s.ended
}

// scoresLine must be called with mu held
func (s *Session) scoresLine() string {
	return network.Scores(s.players[0].Score, s.players[1].Score)
}

func slotName(i int) string {
	if i == 0 {
		return game.SlotPlayer1
	}
	return game.SlotPlayer2
}

// SessionRegistry maps session ids to live sessions
type SessionRegistry struct {
	sessions cmap.ConcurrentMap[string, *Session]
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: cmap.New[*Session]()}
}

func (r *SessionRegistry) Add(s *Session) {
	r.sessions.Set(s.ID, s)
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Remove takes the session out; only one caller ever gets ok == true
func (r *SessionRegistry) Remove(id string) (*Session, bool) {
	return r.sessions.Pop(id)
}

func (r *SessionRegistry) Len() int {
	return r.sessions.Count()
}

// All returns a snapshot of the live sessions
func (r *SessionRegistry) All() []*Session {
	out := make([]*Session, 0, r.sessions.Count())
	for _, s := range r.sessions.Items() {
		out = append(out, s)
	}
	return out
}

// startSession creates a session for a matched pair, links both presences
// and runs the warm-up. If either player has gone or is already playing, the
// session is dropped and whoever is still idle goes back to the queue.
func (s *Server) startSession(a, b WaitingEntry) {
	sess, err := newSession(a, b)
	if err != nil {
		s.logger.Error("Failed to create session id: %v", err)
		s.queue.Enqueue(a)
		s.queue.Enqueue(b)
		return
	}

	s.sessions.Add(sess)

	entries := [2]WaitingEntry{a, b}
	var linked [2]*Presence
	for i, e := range entries {
		p, ok := s.presence.Get(e.ConnID)
		if !ok || !p.link(sess.ID) {
			s.abortSession(sess, entries, linked)
			return
		}
		linked[i] = p
	}

	// A MATCHMAKE that raced with the pairing may have queued either player
	// again; once linked they must not be waiting.
	s.queue.Remove(a.ConnID)
	s.queue.Remove(b.ConnID)

	s.logger.Info("Match %s: %s (L%d) vs %s (L%d)", sess.ID, a.Username, a.Level, b.Username, b.Level)

	for i, p := range linked {
		p.conn.Send(network.MatchFound(game.SpawnPoints[i]))
	}

	if !s.track() {
		return
	}
	go s.runSession(sess)
}

// abortSession drops a session that could not link both players. Every
// entry whose player is still logged in and not in another session is put
// back in the queue, where the running matchmake loop finds it again.
func (s *Server) abortSession(sess *Session, entries [2]WaitingEntry, linked [2]*Presence) {
	if _, ok := s.sessions.Remove(sess.ID); !ok {
		return
	}
	s.logger.Debug("Aborting session %s, a player left or is already playing", sess.ID)
	for _, p := range linked {
		if p != nil {
			p.unlink(sess.ID)
		}
	}
	for _, e := range entries {
		p, ok := s.presence.Get(e.ConnID)
		if !ok {
			continue
		}
		if lvl, ok := s.levelOf(e.Username); ok {
			e.Level = lvl
		}
		if p.enqueueIfIdle(s.queue, e) {
			s.logger.Info("Player %s returned to matchmaking queue", e.Username)
		}
	}
}

// runSession waits out the warm-up, starts play and schedules the end timer
func (s *Server) runSession(sess *Session) {
	defer s.wg.Done()

	if s.opts.Match.Warmup > 0 {
		t := time.NewTimer(s.opts.Match.Warmup)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return
		}
	}

	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return
	}
	sess.started = time.Now()
	s.sendToSession(sess, network.Start())
	s.sendToSession(sess, sess.scoresLine())
	sess.mu.Unlock()

	if s.track() {
		go s.runSpawner(sess.ID)
	}

	// Not cancelled on early teardown; EndSession ignores ids that are gone
	time.AfterFunc(s.opts.Match.Duration, func() {
		s.EndSession(sess.ID, EndTimeout, "")
	})
}

// sendToSession queues a line to both participants, skipping any that are
// no longer present
func (s *Server) sendToSession(sess *Session, line string) {
	for _, p := range sess.players {
		s.sendTo(p.ConnID, line)
	}
}

func (s *Server) sendTo(connID, line string) {
	if p, ok := s.presence.Get(connID); ok {
		p.conn.Send(line)
	}
}

// EndSession tears a session down. leaverConnID is the forfeiting or
// disconnecting side and is ignored on timeout and shutdown. A session that
// is already gone is a no-op.
func (s *Server) EndSession(sessionID string, reason EndReason, leaverConnID string) {
	if reason == EndForfeit || reason == EndDisconnect {
		sess, ok := s.sessions.Get(sessionID)
		if !ok {
			return
		}
		if sess.SlotOf(leaverConnID) < 0 {
			s.logger.Error("Session %s: %s is not a participant", sessionID, leaverConnID)
			return
		}
	}

	sess, ok := s.sessions.Remove(sessionID)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.ended = true
	players := sess.players
	started := sess.started
	sess.mu.Unlock()
	removed := s.modifiers.DeleteSession(sessionID)

	for _, p := range players {
		if pr, ok := s.presence.Get(p.ConnID); ok {
			pr.unlink(sessionID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// -1 is a tie, or a shutdown: nobody's record changes
	winner := -1
	switch reason {
	case EndTimeout:
		switch {
		case players[0].Score > players[1].Score:
			winner = 0
		case players[1].Score > players[0].Score:
			winner = 1
		}
	case EndForfeit, EndDisconnect:
		winner = 1 - sess.SlotOf(leaverConnID)
	}

	var stats [2]game.PlayerData
	for i, p := range players {
		outcome := game.Loss
		if i == winner {
			outcome = game.Win
		}
		if winner < 0 {
			stats[i], _ = s.opts.Data.GetPlayerByUsername(p.Username)
			continue
		}
		pd, err := s.opts.Data.RecordResult(ctx, p.Username, outcome)
		if err != nil {
			s.logger.Error("Failed to record %s for %s: %v", outcome, p.Username, err)
		}
		stats[i] = pd
	}

	for i, p := range players {
		switch {
		case reason == EndTimeout || reason == EndShutdown:
			s.sendTo(p.ConnID, network.End(stats[i]))
		case reason == EndForfeit:
			s.sendTo(p.ConnID, network.ForfeitConfirm(stats[i]))
		case reason == EndDisconnect && i == winner:
			s.sendTo(p.ConnID, network.ForfeitConfirm(stats[i]))
		}
	}

	winnerName := ""
	if winner >= 0 {
		winnerName = players[winner].Username
	}
	s.logger.Info("Session %s ended (%s): %s %d - %d %s, winner=%q, %d modifiers cleared",
		sessionID, reason, players[0].Username, players[0].Score, players[1].Score, players[1].Username, winnerName, removed)

	ev := events.MatchEnded{
		SessionID: sessionID,
		Reason:    string(reason),
		Winner:    winnerName,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	for i, p := range players {
		ev.Players = append(ev.Players, events.PlayerResult{
			Username: p.Username,
			Slot:     slotName(i),
			Score:    p.Score,
			Level:    stats[i].Level,
			Streak:   stats[i].Streak,
		})
	}
	if err := s.opts.Events.PublishMatchEnded(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish result of %s: %v", sessionID, err)
	}
}

package server

import (
	"time"

	"arena-server/internal/game"
	"arena-server/internal/network"
)

// runSpawner drops a modifier into the session every spawn interval until
// the session is gone
func (s *Server) runSpawner(sessionID string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Match.SpawnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}

		sess, ok := s.sessions.Get(sessionID)
		if !ok {
			return
		}
		s.spawnModifier(sess)
	}
}

// spawnModifier picks a kind below the cap and a random position, stores the
// modifier and announces it to both players
func (s *Server) spawnModifier(sess *Session) (game.Modifier, bool) {
	capPerKind := s.opts.Match.ModifierCap
	kind, pos, ok := game.PickModifier(s.rng, s.modifiers.Counts(sess.ID), capPerKind, game.ArenaBounds)
	if !ok {
		return game.Modifier{}, false
	}
	m := game.Modifier{SessionID: sess.ID, Position: pos, Kind: kind}

	// Holding the session lock orders the insert before teardown's bulk delete
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ended {
		return game.Modifier{}, false
	}
	if !s.modifiers.Add(m, capPerKind) {
		return game.Modifier{}, false
	}
	s.sendToSession(sess, network.Modifier(m))
	return m, true
}

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"time"

	"arena-server/internal/game"
	"arena-server/internal/network"
)

const authTimeout = 5 * time.Second

// handleTransport is the connection worker: it reads lines until the
// transport closes, then runs disconnect handling exactly once
func (s *Server) handleTransport(t network.Transport) {
	c := newConn(t, s.opts.OutboundQueue, s.logger)
	s.conns.Set(c.ID, c)
	go c.writeLoop()

	s.logger.Info("New client connected: %s from %s", c.ID, t.RemoteAddr())

	defer func() {
		c.Close()
		s.conns.Remove(c.ID)
		s.handleDisconnect(c)
		s.logger.Info("Client disconnected: %s", c.ID)
	}()

	for {
		line, err := t.ReadLine()
		if err != nil {
			if !c.Closed() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Read from %s failed: %v", c.ID, err)
			}
			return
		}
		c.touch()
		s.processLine(c, line)
	}
}

// processLine dispatches one line; a panic is contained to that line
func (s *Server) processLine(c *Conn, line string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic handling %q from %s: %v\n%s", line, c.ID, r, debug.Stack())
		}
	}()

	cmd := network.Parse(line)
	s.logger.Debug("Received from %s: %s", c.ID, cmd.Raw)

	if c.username == "" {
		s.handleAuthPhase(c, cmd)
		return
	}
	p, ok := s.presence.Get(c.ID)
	if !ok {
		c.username = ""
		s.handleAuthPhase(c, cmd)
		return
	}
	s.handleGamePhase(c, p, cmd)
}

func (s *Server) handleAuthPhase(c *Conn, cmd network.Command) {
	switch cmd.Type {
	case network.MsgLogin:
		s.handleLogin(c, cmd.Arg(0), cmd.Arg(1))
	case network.MsgRegister:
		s.handleRegister(c, cmd.Arg(0), cmd.Arg(1))
	default:
		c.Send(network.LoginFailed(network.ReasonUnknownCommand))
	}
}

// handleLogin processes login requests
func (s *Server) handleLogin(c *Conn, username, password string) {
	if _, online := s.online.Get(username); online {
		s.logger.Info("Login failed for %s: %v", username, game.ErrAlreadyOnline)
		c.Send(network.LoginFailed(network.ReasonAlreadyOnline))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, authTimeout)
	defer cancel()

	playerData, err := s.opts.Data.AuthenticatePlayer(ctx, username, password)
	if err != nil {
		s.logger.Info("Login failed for %s: %v", username, err)
		if errors.Is(err, game.ErrPlayerNotFound) || errors.Is(err, game.ErrInvalidPassword) {
			c.Send(network.LoginFailed(network.ReasonInvalidCredentials))
		} else {
			c.Send(network.LoginFailed(network.ReasonServerError))
		}
		return
	}

	if !s.online.SetIfAbsent(username, c.ID) {
		s.logger.Info("Login failed for %s: %v", username, game.ErrAlreadyOnline)
		c.Send(network.LoginFailed(network.ReasonAlreadyOnline))
		return
	}
	s.presence.Set(c.ID, &Presence{ConnID: c.ID, Username: username, conn: c})
	c.username = username

	s.logger.Info("Player %s logged in on %s", username, c.ID)
	c.Send(network.LoginSuccess(playerData, c.ID))
	c.Send(network.Leaderboard(s.opts.Data.Leaderboard(game.LeaderboardSize)))
}

// handleRegister processes registration requests
func (s *Server) handleRegister(c *Conn, username, password string) {
	ctx, cancel := context.WithTimeout(s.ctx, authTimeout)
	defer cancel()

	if _, err := s.opts.Data.RegisterPlayer(ctx, username, password); err != nil {
		s.logger.Info("Registration failed for %s: %v", username, err)
		switch {
		case errors.Is(err, game.ErrUsernameTaken):
			c.Send(network.RegisterFailed(network.ReasonUsernameTaken))
		case errors.Is(err, game.ErrEmptyUsername), errors.Is(err, game.ErrEmptyPassword):
			c.Send(network.RegisterFailed(network.ReasonInvalidInput))
		default:
			c.Send(network.RegisterFailed(network.ReasonServerError))
		}
		return
	}
	c.Send(network.RegisterSuccess())
}

func (s *Server) handleGamePhase(c *Conn, p *Presence, cmd network.Command) {
	switch cmd.Type {
	case network.MsgLogout:
		s.handleLogout(c, p)
	case network.MsgMatchmake:
		s.handleMatchmake(c, p)
	case network.MsgCancelMatchmaking:
		if s.queue.Remove(c.ID) {
			s.logger.Info("Player %s left matchmaking", p.Username)
		}
	case network.MsgForfeit:
		if sid := p.SessionID(); sid != "" {
			s.EndSession(sid, EndForfeit, c.ID)
		}
	case network.MsgLeaderboard:
		c.Send(network.Leaderboard(s.opts.Data.Leaderboard(game.LeaderboardSize)))
	default:
		if cmd.Type.IsRelayed() {
			s.handleMatchTraffic(c, p, cmd)
		}
	}
}

func (s *Server) handleMatchmake(c *Conn, p *Presence) {
	level, ok := s.levelOf(p.Username)
	if !ok {
		return
	}
	if !p.enqueueIfIdle(s.queue, WaitingEntry{ConnID: c.ID, Username: p.Username, Level: level, Since: time.Now()}) {
		return
	}
	s.logger.Info("Player %s (L%d) added to matchmaking queue", p.Username, level)
	s.matchmake()
}

// matchmake pairs waiting players until no compatible pair is left
func (s *Server) matchmake() {
	for {
		a, b, ok := s.queue.TakePair(s.opts.Match.LevelGap)
		if !ok {
			return
		}
		s.startSession(a, b)
	}
}

// handleLogout forfeits any live match and returns the connection to the
// authentication phase
func (s *Server) handleLogout(c *Conn, p *Presence) {
	s.queue.Remove(c.ID)
	if sid := p.SessionID(); sid != "" {
		s.EndSession(sid, EndForfeit, c.ID)
	}
	s.removePresence(c)
	s.logger.Info("Player %s logged out", p.Username)
	c.username = ""
}

func (s *Server) handleDisconnect(c *Conn) {
	if c.username == "" {
		return
	}
	s.queue.Remove(c.ID)
	s.removePresence(c)
}

// removePresence drops the connection's presence and online claim. A match
// it is still linked to ends as a disconnect.
func (s *Server) removePresence(c *Conn) {
	p, ok := s.presence.Pop(c.ID)
	if !ok {
		return
	}
	sid := p.leave()
	s.online.RemoveCb(p.Username, func(_ string, id string, exists bool) bool { return exists && id == c.ID })
	if sid != "" {
		s.EndSession(sid, EndDisconnect, c.ID)
	}
}

// handleMatchTraffic applies the side effects of in-match lines and relays
// the raw line to the opponent
func (s *Server) handleMatchTraffic(c *Conn, p *Presence, cmd network.Command) {
	sid := p.SessionID()
	if sid == "" {
		return
	}
	sess, ok := s.sessions.Get(sid)
	if !ok {
		return
	}
	slot := sess.SlotOf(c.ID)
	if slot < 0 {
		return
	}

	switch cmd.Type {
	case network.MsgHit:
		s.applyHit(sess, cmd.Arg(2))
	case network.MsgWallCollision:
		s.applyWallCollision(sess, slot)
	case network.MsgModifierPickup:
		x, okX := network.ParseCoord(cmd.Arg(0))
		y, okY := network.ParseCoord(cmd.Arg(1))
		if okX && okY {
			if m, ok := s.modifiers.Remove(sid, game.Position{X: x, Y: y}); ok {
				s.logger.Debug("Session %s: %s picked up %s", sid, p.Username, m.Kind)
			}
		}
	}

	s.sendTo(sess.players[1-slot].ConnID, cmd.Raw)
}

// applyHit credits the shooter and broadcasts the new scores
func (s *Server) applyHit(sess *Session, shooterID string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.live() {
		return
	}
	slot := sess.ResolveSlot(shooterID)
	if slot < 0 {
		return
	}
	sess.players[slot].Score += game.HitPoints
	s.sendToSession(sess, sess.scoresLine())
}

// applyWallCollision credits the opponent of the colliding slot and resets
// both players
func (s *Server) applyWallCollision(sess *Session, collider int) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.live() {
		return
	}
	sess.players[1-collider].Score += game.WallCollisionPoints
	s.sendToSession(sess, sess.scoresLine())
	s.sendToSession(sess, network.ResetPositions())
}

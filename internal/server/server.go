// Package server implements the arena's session-coordination engine: one
// worker per connection over shared presence, queue, session and modifier
// tables.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	cmap "github.com/orcaman/concurrent-map/v2"

	"arena-server/internal/config"
	"arena-server/internal/events"
	"arena-server/internal/game"
	"arena-server/internal/network"
	"arena-server/pkg/logger"
)

// ErrServerClosed is returned by Serve after Stop
var ErrServerClosed = errors.New("server closed")

// Options configures a Server. Data is required.
type Options struct {
	Match         config.MatchConfig
	IdleTimeout   time.Duration
	OutboundQueue int

	Data   *game.DataManager
	Events events.Publisher
	Logger *logger.Logger
	// Random drives modifier spawning; calls are serialized by the server
	Random game.RandomSource
}

// Server represents the game server
type Server struct {
	opts   Options
	logger *logger.Logger
	rng    game.RandomSource

	conns     cmap.ConcurrentMap[string, *Conn]     // every open connection
	presence  cmap.ConcurrentMap[string, *Presence] // authenticated connections by conn id
	online    cmap.ConcurrentMap[string, string]    // username -> conn id
	queue     *WaitingQueue
	sessions  *SessionRegistry
	modifiers *ModifierTable

	housekeeping gocron.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners []net.Listener
	stopped   bool
}

// lockedRand serializes a source that is not safe for concurrent use
type lockedRand struct {
	mu  sync.Mutex
	src game.RandomSource
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(n)
}

// NewServer creates a new server instance and starts its housekeeping jobs
func NewServer(opts Options) (*Server, error) {
	if opts.Data == nil {
		return nil, errors.New("server: data manager is required")
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Server
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = config.Default().Server.OutboundQueue
	}
	if opts.Match.Duration <= 0 {
		opts.Match.Duration = game.DefaultMatchDuration
	}
	if opts.Match.SpawnInterval <= 0 {
		opts.Match.SpawnInterval = game.DefaultSpawnInterval
	}
	if opts.Match.ModifierCap <= 0 {
		opts.Match.ModifierCap = game.MaxModifiersPerKind
	}

	rng := game.DefaultRandom
	if opts.Random != nil {
		rng = &lockedRand{src: opts.Random}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		logger:    opts.Logger,
		rng:       rng,
		conns:     cmap.New[*Conn](),
		presence:  cmap.New[*Presence](),
		online:    cmap.New[string](),
		queue:     NewWaitingQueue(),
		sessions:  NewSessionRegistry(),
		modifiers: NewModifierTable(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := s.startHousekeeping(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// track registers a goroutine with the server unless it is stopping
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ListenAndServe listens on the TCP address and serves until Stop
func (s *Server) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts line-protocol clients on ln until Stop
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.logger.Info("Server started and listening on %s", ln.Addr())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("Accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !s.track() {
			conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			s.handleTransport(network.NewTCPTransport(conn))
		}()
	}
}

// Stop ends every live session without changing records, closes all
// connections and waits for workers to finish
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	s.logger.Info("Stopping server...")

	if err := s.housekeeping.Shutdown(); err != nil {
		s.logger.Warn("Housekeeping shutdown: %v", err)
	}
	s.cancel()

	for _, sess := range s.sessions.All() {
		s.EndSession(sess.ID, EndShutdown, "")
	}

	deadline := time.Now().Add(time.Second)
	for _, c := range s.conns.Items() {
		c.flush(deadline)
		c.Close()
	}

	s.wg.Wait()
	s.logger.Info("Server stopped")
	return nil
}

// Stats is a point-in-time view of the shared tables
type Stats struct {
	Connections int `json:"connections"`
	Online      int `json:"online"`
	Waiting     int `json:"waiting"`
	Sessions    int `json:"sessions"`
	Modifiers   int `json:"modifiers"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.conns.Count(),
		Online:      s.presence.Count(),
		Waiting:     s.queue.Len(),
		Sessions:    s.sessions.Len(),
		Modifiers:   s.modifiers.Total(),
	}
}

func (s *Server) levelOf(username string) (int, bool) {
	p, ok := s.opts.Data.GetPlayerByUsername(username)
	return p.Level, ok
}

// Package events publishes match results for other services to consume.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"arena-server/pkg/logger"
)

// How a match ended
const (
	ReasonTimeout    = "timeout"
	ReasonForfeit    = "forfeit"
	ReasonDisconnect = "disconnect"
	ReasonShutdown   = "shutdown"
)

// PlayerResult is one participant's side of a finished match
type PlayerResult struct {
	Username string `json:"username"`
	Slot     string `json:"slot"`
	Score    int    `json:"score"`
	Level    int    `json:"level"`
	Streak   int    `json:"streak"`
}

// MatchEnded is published once per finished session
type MatchEnded struct {
	SessionID string         `json:"session_id"`
	Reason    string         `json:"reason"`
	Winner    string         `json:"winner,omitempty"` // empty on a tie
	Players   []PlayerResult `json:"players"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// Publisher delivers match events
type Publisher interface {
	PublishMatchEnded(ctx context.Context, ev MatchEnded) error
	Close() error
}

// Noop drops every event
type Noop struct{}

func (Noop) PublishMatchEnded(context.Context, MatchEnded) error { return nil }
func (Noop) Close() error                                        { return nil }

// NATSPublisher publishes JSON events on <prefix>.match.ended
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *logger.Logger
}

// NewNATSPublisher connects to url with unlimited reconnects
func NewNATSPublisher(url, prefix string, log *logger.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = logger.Server
	}
	conn, err := nats.Connect(
		url,
		nats.Name("arena-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: Subject(prefix), logger: log}, nil
}

// Subject returns the match-ended subject for a prefix
func Subject(prefix string) string {
	if prefix == "" {
		prefix = "arena"
	}
	return prefix + ".match.ended"
}

func (p *NATSPublisher) PublishMatchEnded(ctx context.Context, ev MatchEnded) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending events and closes the connection
func (p *NATSPublisher) Close() error {
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}

package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"arena-server/internal/network"
	"arena-server/pkg/logger"
)

// Conn is one client connection. Lines for the peer are queued and written
// by a dedicated goroutine so a slow reader never blocks the sender.
type Conn struct {
	ID        string
	transport network.Transport
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64
	connected time.Time
	logger    *logger.Logger

	// owned by the connection's worker goroutine
	username string
}

func newConn(t network.Transport, queueSize int, log *logger.Logger) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		transport: t,
		out:       make(chan string, queueSize),
		done:      make(chan struct{}),
		connected: time.Now(),
		logger:    log,
	}
	c.touch()
	return c
}

func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen is when the last inbound line arrived
func (c *Conn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Send queues a line. A full queue means the peer stopped reading; the
// connection is closed and the disconnect path takes over.
func (c *Conn) Send(line string) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- line:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("Outbound queue full for %s, dropping connection", c.ID)
		c.Close()
		return false
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case line := <-c.out:
			if err := c.transport.WriteLine(line); err != nil {
				c.logger.Debug("Write to %s failed: %v", c.ID, err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// flush waits for queued lines to be written, up to deadline
func (c *Conn) flush(deadline time.Time) {
	for len(c.out) > 0 && !c.Closed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops the writer and closes the transport, which ends the reader
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.transport.Close()
	})
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

package network

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from anywhere
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSTransport carries the line protocol over WebSocket text frames. A frame
// may hold several '\n'-separated lines.
type WSTransport struct {
	conn      *websocket.Conn
	pending   []string
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade switches an HTTP request to a WebSocket transport and starts its
// keepalive pings
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSTransport(conn), nil
}

func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{conn: conn, done: make(chan struct{})}

	conn.SetReadLimit(MaxLineLength)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go t.pingLoop()
	return t
}

func (t *WSTransport) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// WriteControl is safe alongside WriteLine
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) ReadLine() (string, error) {
	for len(t.pending) == 0 {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\n") {
			t.pending = append(t.pending, strings.TrimRight(line, "\r"))
		}
	}
	line := t.pending[0]
	t.pending = t.pending[1:]
	return line, nil
}

func (t *WSTransport) WriteLine(line string) error {
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

package network

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
)

// MaxLineLength bounds one inbound line
const MaxLineLength = 64 * 1024

// ErrLineTooLong is returned when a peer sends a line over MaxLineLength
var ErrLineTooLong = errors.New("line too long")

// Transport carries newline-free text lines in both directions. ReadLine is
// called from one goroutine and WriteLine from one (possibly different)
// goroutine; Close may be called from anywhere.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// TCPTransport frames lines with '\n' over a stream connection
type TCPTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writer  *bufio.Writer
	mu      sync.Mutex
}

func NewTCPTransport(conn net.Conn) *TCPTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineLength)
	return &TCPTransport{
		conn:    conn,
		scanner: scanner,
		writer:  bufio.NewWriter(conn),
	}
}

func (t *TCPTransport) ReadLine() (string, error) {
	if t.scanner.Scan() {
		return t.scanner.Text(), nil
	}
	err := t.scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return "", ErrLineTooLong
	}
	if err == nil {
		err = io.EOF
	}
	return "", err
}

func (t *TCPTransport) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.writer.WriteString(line); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func (t *TCPTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

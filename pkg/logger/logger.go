// Package logger provides the levelled, component-tagged logging used by the
// arena server and client.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel represents the severity of a log line
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	switch name {
	case "DEBUG", "debug":
		return DEBUG
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

var levelColors = map[LogLevel]*color.Color{
	DEBUG: color.New(color.FgHiBlack),
	INFO:  color.New(color.FgCyan),
	WARN:  color.New(color.FgYellow, color.Bold),
	ERROR: color.New(color.FgRed, color.Bold),
	FATAL: color.New(color.FgWhite, color.BgRed, color.Bold),
}

var (
	globalMu    sync.RWMutex
	globalLevel = INFO
)

// SetGlobalLogLevel changes the minimum level for every logger
func SetGlobalLogLevel(level LogLevel) {
	globalMu.Lock()
	globalLevel = level
	globalMu.Unlock()
}

// GlobalLogLevel returns the current minimum level
func GlobalLogLevel() LogLevel {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLevel
}

// Logger writes component-tagged lines to the console and optionally a file
type Logger struct {
	component string
	console   io.Writer
	file      *os.File
	mu        sync.Mutex
	exit      func(int)
}

// New creates a logger for the given component writing to stdout
func New(component string) *Logger {
	return &Logger{
		component: component,
		console:   os.Stdout,
		exit:      os.Exit,
	}
}

// NewWithWriter creates a logger writing to w with colours disabled
func NewWithWriter(component string, w io.Writer) *Logger {
	l := New(component)
	l.console = w
	return l
}

// Discard returns a logger that drops everything; handy in tests
func Discard() *Logger {
	return NewWithWriter("test", io.Discard)
}

// Package level loggers, one per component
var (
	Server = New("SERVER")
	Client = New("CLIENT")
	Store  = New("STORE")
)

// SetFile mirrors this logger's output into the given file (appending)
func (l *Logger) SetFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.mu.Unlock()
	return nil
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// InitializeFileLogging gives every package logger its own file under dir
func InitializeFileLogging(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	stamp := time.Now().Format("20060102")
	for name, l := range map[string]*Logger{"server": Server, "client": Client, "store": Store} {
		if err := l.SetFile(filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, stamp))); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < GlobalLogLevel() {
		return
	}

	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006-01-02 15:04:05.000")

	l.mu.Lock()
	defer l.mu.Unlock()

	tag := fmt.Sprintf("[%-5s]", level)
	if l.console == os.Stdout {
		tag = levelColors[level].Sprint(tag)
	}
	fmt.Fprintf(l.console, "%s %s [%s] %s\n", ts, tag, l.component, msg)

	if l.file != nil {
		fmt.Fprintf(l.file, "%s [%-5s] [%s] %s\n", ts, level, l.component, msg)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Fatal logs and terminates the process
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
	l.Close()
	l.exit(1)
}

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	CRITICAL
)

var levelNames = map[Level]string{
	DEBUG:    "DEBUG",
	INFO:     "INFO",
	WARNING:  "WARNING",
	ERROR:    "ERROR",
	CRITICAL: "CRITICAL",
}

// ParseLevel maps a name such as "info" or "warn" to a Level. Unknown names yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	case "critical", "fatal":
		return CRITICAL
	default:
		return INFO
	}
}

type state struct {
	mu    sync.RWMutex
	level Level
	out   *log.Logger
}

// Logger is a leveled logger. Child loggers made with Named share the
// parent's output and level.
type Logger struct {
	st     *state
	prefix string
}

// New writes to w.
func New(w io.Writer, level Level) *Logger {
	return &Logger{st: &state{level: level, out: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}}
}

// NewFile writes to stdout and to a rotated app.log inside logDir.
func NewFile(logDir string, level Level) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "app.log"),
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	return New(io.MultiWriter(os.Stdout, fileWriter), level), nil
}

// Discard drops everything. Used by tests.
func Discard() *Logger { return New(io.Discard, CRITICAL+1) }

// Named returns a child logger whose lines carry [name].
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{st: l.st, prefix: l.prefix + "[" + name + "] "}
}

// SetLevel changes the level for this logger and all its children.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.st.mu.Lock()
	defer l.st.mu.Unlock()
	l.st.level = level
}

// Writer exposes the underlying output, e.g. for gin's access log.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return l.st.out.Writer()
}

func (l *Logger) log(level Level, msg string) {
	if l == nil {
		return
	}
	l.st.mu.RLock()
	current := l.st.level
	l.st.mu.RUnlock()
	if level < current {
		return
	}
	l.st.out.Print("[" + levelNames[level] + "] " + l.prefix + msg)
}

func (l *Logger) Debug(msg string) { l.log(DEBUG, msg) }
func (l *Logger) Info(msg string)  { l.log(INFO, msg) }
func (l *Logger) Warn(msg string)  { l.log(WARNING, msg) }
func (l *Logger) Error(msg string) { l.log(ERROR, msg) }

func (l *Logger) Debugf(format string, args ...any) { l.log(DEBUG, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(INFO, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(WARNING, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(ERROR, fmt.Sprintf(format, args...)) }

func (l *Logger) Criticalf(format string, args ...any) {
	l.log(CRITICAL, fmt.Sprintf(format, args...))
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.log(CRITICAL, fmt.Sprintf(format, args...))
	os.Exit(1)
}

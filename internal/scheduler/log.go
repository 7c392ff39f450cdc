package scheduler

import (
	"log"
	"sync/atomic"
)

// Logger is the sink for scheduler diagnostics. Both levels take an optional error.
type Logger interface {
	Debug(tag, msg string, err error)
	Error(tag, msg string, err error)
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, error) {}
func (nopLogger) Error(string, string, error) {}

type loggerBox struct{ Logger }

var (
	sink    atomic.Pointer[loggerBox]
	debugOn atomic.Bool
)

func init() {
	sink.Store(&loggerBox{nopLogger{}})
}

// SetLogger installs l as the process-wide diagnostic sink. A nil l is ignored.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	sink.Store(&loggerBox{l})
}

// SetDebug enables or disables all scheduler diagnostics.
func SetDebug(enabled bool) { debugOn.Store(enabled) }

// Debugging reports whether diagnostics are enabled.
func Debugging() bool { return debugOn.Load() }

func logDebug(tag, msg string) {
	if debugOn.Load() {
		sink.Load().Debug(tag, msg, nil)
	}
}

func logError(tag, msg string, err error) {
	if debugOn.Load() {
		sink.Load().Error(tag, msg, err)
	}
}

// StdLogger writes diagnostics through a standard library logger.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger returns a Logger backed by l, or by the default logger when l is nil.
func NewStdLogger(l *log.Logger) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{l: l}
}

// Debug implements Logger.
func (s *StdLogger) Debug(tag, msg string, err error) {
	if err != nil {
		s.l.Printf("DEBUG: [%s] %s: %v", tag, msg, err)
		return
	}
	s.l.Printf("DEBUG: [%s] %s", tag, msg)
}

// Error implements Logger.
func (s *StdLogger) Error(tag, msg string, err error) {
	if err != nil {
		s.l.Printf("ERROR: [%s] %s: %v", tag, msg, err)
		return
	}
	s.l.Printf("ERROR: [%s] %s", tag, msg)
}

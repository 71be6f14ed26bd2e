// Package vlog is a thin key-value wrapper over zap, matching the call
// shape the teacher's own logging uses throughout the scan/sync pipeline:
// Info/Warn/Error(msg string, keyvals ...any).
package vlog

import (
	"go.uber.org/zap"
)

// Logger wraps a zap.SugaredLogger with a fixed set of "with" fields, so
// every subsystem can derive a child logger (e.g. "chain", 56) without
// threading raw zap types through component constructors.
type Logger struct {
	s *zap.SugaredLogger
}

// New builds a production-configured Logger (JSON output, info level).
func New() *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken sink/encoder config,
		// which never happens with the defaults used here.
		panic(err)
	}
	return &Logger{s: z.Sugar()}
}

// NewDevelopment builds a human-readable console Logger, used by the CLI
// when stdout is a terminal.
func NewDevelopment() *Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return &Logger{s: z.Sugar()}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger { return &Logger{s: zap.NewNop().Sugar()} }

// With derives a child Logger carrying additional key-value fields on every
// subsequent call.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{s: l.s.With(keyvals...)}
}

func (l *Logger) Info(msg string, keyvals ...any)  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.s.Errorw(msg, keyvals...) }
func (l *Logger) Debug(msg string, keyvals ...any) { l.s.Debugw(msg, keyvals...) }

// Sync flushes any buffered log entries; callers should defer this at
// process exit.
func (l *Logger) Sync() error { return l.s.Sync() }

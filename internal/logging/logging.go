// Package logging is the logging wrapper used across bobd: a
// per-component, per-node logger with a fixed field order, instead of a
// single global log.Printf.
package logging

import (
	"log"
	"os"
)

// Logger tags every line with the owning node and component, e.g.
// "node01 holder: reinit pearl 2026-07-30T00:00:00Z".
type Logger struct {
	node      string
	component string
	std       *log.Logger
}

// New builds a Logger writing to stderr, prefixed with node and component.
func New(node, component string) *Logger {
	return &Logger{
		node:      node,
		component: component,
		std:       log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// With returns a copy of l scoped to a different component, for a
// subsystem that wants its own tag without reconstructing node wiring.
func (l *Logger) With(component string) *Logger {
	return &Logger{node: l.node, component: component, std: l.std}
}

func (l *Logger) prefix() string {
	return l.node + " " + l.component + ": "
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf(l.prefix()+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf(l.prefix()+"WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf(l.prefix()+"ERROR "+format, args...)
}

// Package telemetry is a thin wrapper over the standard library log
// package, used to narrate lifecycle events across the pipe log and
// engine packages.
package telemetry

import (
	"log"
	"os"
)

// Logger prefixes every line with a component name so interleaved pipe
// log / engine output stays attributable.
type Logger struct {
	std       *log.Logger
	component string
}

// New returns a Logger writing to stderr, tagged with component.
func New(component string) *Logger {
	return &Logger{
		std:       log.New(os.Stderr, "", log.LstdFlags),
		component: component,
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("INFO  ["+l.component+"] "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("WARN  ["+l.component+"] "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("ERROR ["+l.component+"] "+format, args...)
}

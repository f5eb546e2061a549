// Package logging is the server's leveled logging seam. Components take a
// Logger instead of writing to the stdlib directly, so library code stays
// silent under test and the server decides where output lands.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"sync"
)

// Logger is the printf-shaped contract every component logs through.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

var (
	stdOnce sync.Once
	std     *log.Logger
)

// std is shared by every component logger so SetOutput redirects them all.
func stdLogger() *log.Logger {
	stdOnce.Do(func() {
		std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	})
	return std
}

// SetOutput redirects every component logger to w.
func SetOutput(w io.Writer) {
	stdLogger().SetOutput(w)
}

type componentLogger struct {
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) write(level, format string, args ...any) {
	stdLogger().Printf("[%s] [%s] %s", level, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) { l.write("DEBUG", format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.write("INFO", format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.write("WARN", format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.write("ERROR", format, args...) }

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}

// Nop returns a logger that drops everything.
func Nop() Logger {
	return discard{}
}

// IsNil reports whether logger is nil, including a typed nil stored in the
// interface, which would panic on the first call.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// OrNop makes an optional logger safe to call: nil comes back as Nop.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type fanout struct {
	targets []Logger
}

// Multi duplicates every log call across the given loggers. Nils are
// skipped, nested fanouts are flattened, and a single survivor is returned
// bare.
func Multi(loggers ...Logger) Logger {
	var targets []Logger
	for _, logger := range loggers {
		switch l := logger.(type) {
		case *fanout:
			targets = append(targets, l.targets...)
		default:
			if !IsNil(logger) {
				targets = append(targets, logger)
			}
		}
	}
	switch len(targets) {
	case 0:
		return Nop()
	case 1:
		return targets[0]
	}
	return &fanout{targets: targets}
}

func (f *fanout) Debug(format string, args ...any) {
	for _, l := range f.targets {
		l.Debug(format, args...)
	}
}

func (f *fanout) Info(format string, args ...any) {
	for _, l := range f.targets {
		l.Info(format, args...)
	}
}

func (f *fanout) Warn(format string, args ...any) {
	for _, l := range f.targets {
		l.Warn(format, args...)
	}
}

func (f *fanout) Error(format string, args ...any) {
	for _, l := range f.targets {
		l.Error(format, args...)
	}
}

// Package logging provides the level-filtered formatter used across the
// coordinator, with a web-sink hook so the UI broadcaster can mirror lines
// to connected browsers.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Level is a log severity, ordered least to most severe.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses one of DEBUG|INFO|WARN|ERROR|FATAL, defaulting to Info.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "WARN":
		return Warn
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	default:
		return Info
	}
}

// Sink receives every formatted line that passes the level filter, in
// addition to the process's own stderr. Used to mirror system-log lines
// into the browser UI.
type Sink func(level Level, line string)

// Logger is a level-filtered wrapper around the standard library's
// *log.Logger, emitting a single formatted line per event.
type Logger struct {
	out   *log.Logger
	mu    sync.Mutex
	level Level
	sinks []Sink
}

// New builds a Logger writing to stderr, filtered at minLevel.
func New(minLevel Level) *Logger {
	return &Logger{
		out:   log.New(os.Stderr, "", log.Ldate|log.Ltime),
		level: minLevel,
	}
}

// AddSink registers a callback invoked for every line at or above the
// configured level, after it is written to stderr.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("%s | %s", level, fmt.Sprintf(format, args...))
	l.out.Print(line)

	l.mu.Lock()
	sinks := append([]Sink(nil), l.sinks...)
	l.mu.Unlock()
	for _, s := range sinks {
		s(level, line)
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(Error, format, args...) }

// Fatalf logs at Fatal and terminates the process.
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(Fatal, format, args...)
	os.Exit(1)
}

// Now is provided so components can timestamp user-visible events using the
// same clock the logger uses; kept here rather than scattering time.Now()
// calls with inconsistent formats.
func Now() time.Time { return time.Now() }

// Package logger provides component-scoped structured logging on top of zerolog.
//
// Every call names the component it originates from ("relay", "skill", ...)
// and may carry a field map that is rendered as structured key/value pairs.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

var (
	mu     sync.RWMutex
	level  = INFO
	output = newConsole(os.Stderr)
)

func newConsole(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

// SetLevel changes the minimum level that is emitted.
func SetLevel(l LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetOutput redirects log output. When json is true, lines are written as
// JSON objects instead of the human readable console format.
func SetOutput(w io.Writer, json bool) {
	mu.Lock()
	defer mu.Unlock()
	if json {
		output = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	output = newConsole(w)
}

func toZerolog(l LogLevel) zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func logMessage(l LogLevel, component, message string, fields map[string]any) {
	mu.RLock()
	if l < level {
		mu.RUnlock()
		return
	}
	out := output
	mu.RUnlock()

	ev := out.WithLevel(toZerolog(l))
	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)

	if l == FATAL {
		os.Exit(1)
	}
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) { logMessage(INFO, "", message, nil) }

func InfoC(component, message string) { logMessage(INFO, component, message, nil) }

func InfoCF(component, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) { logMessage(WARN, "", message, nil) }

func WarnC(component, message string) { logMessage(WARN, component, message, nil) }

func WarnCF(component, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) { logMessage(ERROR, "", message, nil) }

func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }

func ErrorCF(component, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}

// Package log provides a global structured logger for the whole codebase,
// built on top of zerolog. It must be initialized once with Init before any
// other call.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// The possible values of the logLevel init parameter.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	logTestWriterName = "_testwriter"
	invalidCharsHint  = "log line with invalid characters"
)

var (
	logger zerolog.Logger

	level string

	// panicOnInvalidChars enables panics when a log line carries invalid
	// (likely binary) characters. Useful to catch missing hex encodings in
	// tests; controlled via the LOG_PANIC_ON_INVALIDCHARS env var.
	panicOnInvalidChars = strings.ToLower(os.Getenv("LOG_PANIC_ON_INVALIDCHARS")) == "true"

	// logTestWriter is the io.Writer used when the output parameter of Init
	// is logTestWriterName. Swapped by tests and benchmarks.
	logTestWriter io.Writer = io.Discard
)

// Level returns the current log level, as passed to Init.
func Level() string {
	return level
}

type invalidCharChecker struct{}

// Write panics when the log line carries invalid characters. zerolog
// JSON-escapes any invalid byte as the literal sequence `\ufffd` before the
// line reaches us; a console-formatted line may carry the replacement rune
// itself, so both forms are checked.
func (invalidCharChecker) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte(`\ufffd`)) || bytes.ContainsRune(p, utf8.RuneError) {
		panic(fmt.Sprintf("%s: %q", invalidCharsHint, p))
	}
	return len(p), nil
}

// Init initializes the global logger with the given level and output. The
// output may be "stdout", "stderr" or a file path. errorOutput, if not empty,
// is a file path where raw error logs are duplicated.
func Init(logLevel, output string, errorOutput io.Writer) {
	var out io.Writer
	switch output {
	case "stdout":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339Nano}
	case "stderr":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano}
	case logTestWriterName:
		out = logTestWriter
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot create log output: %v", err))
		}
		out = f
	}
	if errorOutput != nil {
		out = io.MultiWriter(out, zerolog.MultiLevelWriter(errorOutput))
	}
	if panicOnInvalidChars {
		out = io.MultiWriter(out, invalidCharChecker{})
	}
	var zl zerolog.Level
	switch logLevel {
	case LogLevelDebug:
		zl = zerolog.DebugLevel
	case LogLevelInfo:
		zl = zerolog.InfoLevel
	case LogLevelWarn:
		zl = zerolog.WarnLevel
	case LogLevelError:
		zl = zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("invalid log level: %q", logLevel))
	}
	logger = zerolog.New(out).Level(zl).With().Timestamp().Logger()
	level = logLevel
	Infof("logger construction succeeded at level %s with output %s", logLevel, output)
}

// Logger returns the global logger.
func Logger() *zerolog.Logger { return &logger }

func send(ev *zerolog.Event, msg string) {
	defer func() {
		// only the invalidCharChecker panic is ours to swallow; anything
		// else raised while writing the event is a real bug
		if r := recover(); r != nil {
			if s, ok := r.(string); ok && strings.Contains(s, invalidCharsHint) {
				if panicOnInvalidChars {
					panic(r)
				}
				return
			}
			panic(r)
		}
	}()
	ev.Msg(msg)
}

func withFields(ev *zerolog.Event, keyvalues ...any) *zerolog.Event {
	for i := 0; i+1 < len(keyvalues); i += 2 {
		key, ok := keyvalues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvalues[i])
		}
		ev = ev.Interface(key, keyvalues[i+1])
	}
	return ev
}

// Debug logs a debug message.
func Debug(args ...any) { send(logger.Debug(), fmt.Sprint(args...)) }

// Info logs an info message.
func Info(args ...any) { send(logger.Info(), fmt.Sprint(args...)) }

// Warn logs a warning message.
func Warn(args ...any) { send(logger.Warn(), fmt.Sprint(args...)) }

// Error logs an error message.
func Error(args ...any) { send(logger.Error(), fmt.Sprint(args...)) }

// Fatal logs a fatal message and exits with code 1.
func Fatal(args ...any) {
	send(logger.Fatal(), fmt.Sprint(args...))
	// zerolog exits for us, but keep the exit explicit for clarity
	os.Exit(1)
}

// Debugf logs a formatted debug message.
func Debugf(template string, args ...any) { send(logger.Debug(), fmt.Sprintf(template, args...)) }

// Infof logs a formatted info message.
func Infof(template string, args ...any) { send(logger.Info(), fmt.Sprintf(template, args...)) }

// Warnf logs a formatted warning message.
func Warnf(template string, args ...any) { send(logger.Warn(), fmt.Sprintf(template, args...)) }

// Errorf logs a formatted error message.
func Errorf(template string, args ...any) { send(logger.Error(), fmt.Sprintf(template, args...)) }

// Fatalf logs a formatted fatal message and exits with code 1.
func Fatalf(template string, args ...any) {
	send(logger.Fatal(), fmt.Sprintf(template, args...))
	os.Exit(1)
}

// Debugw logs a debug message with key-value fields.
func Debugw(msg string, keyvalues ...any) { send(withFields(logger.Debug(), keyvalues...), msg) }

// Infow logs an info message with key-value fields.
func Infow(msg string, keyvalues ...any) { send(withFields(logger.Info(), keyvalues...), msg) }

// Warnw logs a warning message with key-value fields.
func Warnw(msg string, keyvalues ...any) { send(withFields(logger.Warn(), keyvalues...), msg) }

// Errorw logs an error with an optional message with key-value fields.
func Errorw(err error, msg string, keyvalues ...any) {
	send(withFields(logger.Error().Err(err), keyvalues...), msg)
}

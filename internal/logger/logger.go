// Package logger provides the process-wide logger used by every stage.
// It writes human-readable output to the console and, once Configure has
// run, appends structured records to the execution log file so long batch
// runs can be audited after the fact.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	mu            sync.Mutex
)

// Init initializes the default logger with console output only.
// It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		defaultLogger = zerolog.New(console).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	})
}

// Configure re-targets the default logger to write both to the console and
// to the append-only execution log file. The log directory is created if it
// does not exist.
func Configure(logDir, executionFile string) error {
	Init()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", logDir, err)
	}
	path := executionFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(logDir, executionFile)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening execution log %s: %w", path, err)
	}
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	mu.Lock()
	defaultLogger = zerolog.New(io.MultiWriter(console, f)).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	mu.Unlock()
	return nil
}

// Get returns the initialized default logger.
func Get() zerolog.Logger {
	Init()
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Info logs an informational message with alternating key/value args.
func Info(msg string, args ...any) {
	l := Get()
	ev := l.Info()
	addFields(ev, args)
	ev.Msg(msg)
}

// Warn logs a warning message with alternating key/value args.
func Warn(msg string, args ...any) {
	l := Get()
	ev := l.Warn()
	addFields(ev, args)
	ev.Msg(msg)
}

// Error logs an error message; err may be nil.
func Error(msg string, err error, args ...any) {
	l := Get()
	ev := l.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	addFields(ev, args)
	ev.Msg(msg)
}

// Debug logs a debug message with alternating key/value args.
func Debug(msg string, args ...any) {
	l := Get()
	ev := l.Debug()
	addFields(ev, args)
	ev.Msg(msg)
}

func addFields(ev *zerolog.Event, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev.Interface(key, args[i+1])
	}
}

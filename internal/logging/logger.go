// Package logging adapts logrus to the core.Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"

	"contribledger/internal/core"
)

var _ core.Logger = (*Logger)(nil)

// Options controls how New builds the logrus instance.
type Options struct {
	Level string
	// File, when set, receives every entry in addition to stdout.
	File string
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Logger forwards core log calls to a logrus entry.
type Logger struct {
	entry *log.Entry
	close func() error
}

// New builds a logger. Without a file, warnings and errors go to stderr and
// everything else to stdout.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	base := log.New()
	base.SetLevel(level)
	base.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		base.SetOutput(io.MultiWriter(file, stdout))
		closeFn = file.Close
	} else {
		base.SetOutput(io.Discard)
		base.AddHook(&writer.Hook{
			Writer:    stderr,
			LogLevels: []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel},
		})
		base.AddHook(&writer.Hook{
			Writer:    stdout,
			LogLevels: []log.Level{log.TraceLevel, log.InfoLevel, log.DebugLevel},
		})
	}
	return &Logger{entry: log.NewEntry(base), close: closeFn}, nil
}

// ParseLevel accepts logrus level names; empty means info.
func ParseLevel(raw string) (log.Level, error) {
	if raw == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// With returns a logger carrying the given key/value pairs on every entry.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(kv)), close: l.close}
}

// Entry exposes the underlying logrus entry.
func (l *Logger) Entry() *log.Entry { return l.entry }

func (l *Logger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }

// Close releases the log file, if any.
func (l *Logger) Close() error { return l.close() }

// fields pairs up alternating keys and values. A dangling key is kept under
// "!BADKEY" so nothing is silently dropped.
func fields(kv []any) log.Fields {
	out := make(log.Fields, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			out["!BADKEY"] = kv[i]
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out[key] = kv[i+1]
	}
	return out
}

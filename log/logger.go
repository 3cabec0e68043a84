/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package log wraps github.com/ssgreg/logf with the configuration used by vlimitd.
// Entries are written asynchronously, so the CloseFunc returned by NewLogger must be called before exit.
package log

import (
	"io"
	"os"

	"github.com/ssgreg/logf"
)

// Field is a typed key-value pair attached to a log entry.
type Field = logf.Field

// CloseFunc flushes pending entries and stops the background writer.
type CloseFunc logf.ChannelWriterCloseFunc

// Field constructors.
var (
	Error    = logf.Error
	String   = logf.String
	Strings  = logf.Strings
	Bytes    = logf.Bytes
	Int      = logf.Int
	Int64    = logf.Int64
	Duration = logf.Duration
	Bool     = logf.Bool
)

// FieldLogger writes structured entries.
type FieldLogger interface {
	With(...Field) FieldLogger
	Debug(string, ...Field)
	Info(string, ...Field)
	Warn(string, ...Field)
	Error(string, ...Field)
}

// LogfAdapter implements FieldLogger on top of *logf.Logger.
type LogfAdapter struct {
	Logger *logf.Logger
}

var _ FieldLogger = (*LogfAdapter)(nil)

// NewDisabledLogger returns a logger that drops every entry.
func NewDisabledLogger() FieldLogger {
	return &LogfAdapter{Logger: logf.NewDisabledLogger()}
}

// NewLogger creates a logger that writes to the output chosen in cfg.
func NewLogger(cfg *Config) (FieldLogger, CloseFunc) {
	return NewLoggerWithWriter(cfg, openOutput(cfg))
}

// NewLoggerWithWriter creates a logger that encodes entries in cfg.Format and writes them to w.
// Every entry carries the pid of the current process, since several workers may share one output.
func NewLoggerWithWriter(cfg *Config, w io.Writer) (FieldLogger, CloseFunc) {
	ch, closeCh := logf.NewChannelWriter(logf.ChannelWriterConfig{
		Appender:          newAppender(cfg, w),
		EnableSyncOnError: true,
	})
	l := logf.NewLogger(cfg.Level.logfLevel(), ch).With(logf.Int("pid", os.Getpid()))
	if cfg.AddCaller {
		// Skip the adapter frame.
		l = l.WithCaller().WithCallerSkip(1)
	}
	return &LogfAdapter{Logger: l}, CloseFunc(closeCh)
}

// With returns a child logger that adds fs to every entry.
func (l *LogfAdapter) With(fs ...Field) FieldLogger {
	return &LogfAdapter{Logger: l.Logger.With(fs...)}
}

// Debug writes an entry at debug level.
func (l *LogfAdapter) Debug(msg string, fs ...Field) { l.Logger.Debug(msg, fs...) }

// Info writes an entry at info level.
func (l *LogfAdapter) Info(msg string, fs ...Field) { l.Logger.Info(msg, fs...) }

// Warn writes an entry at warn level.
func (l *LogfAdapter) Warn(msg string, fs ...Field) { l.Logger.Warn(msg, fs...) }

// Error writes an entry at error level.
func (l *LogfAdapter) Error(msg string, fs ...Field) { l.Logger.Error(msg, fs...) }

var logfLevels = map[Level]logf.Level{
	LevelDebug: logf.LevelDebug,
	LevelInfo:  logf.LevelInfo,
	LevelWarn:  logf.LevelWarn,
	LevelError: logf.LevelError,
}

func (lvl Level) logfLevel() logf.Level {
	if l, ok := logfLevels[lvl]; ok {
		return l
	}
	return logf.LevelInfo
}

// LevelOf maps a logf level back to Level.
func LevelOf(l logf.Level) Level {
	for lvl, ll := range logfLevels {
		if ll == l {
			return lvl
		}
	}
	return LevelInfo
}

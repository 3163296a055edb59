// Package logging builds the process logger: a console core teed with a
// rotating JSON file core, with sensitive values redacted on every entry.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the output format and destinations.
type Config struct {
	// Development switches the console to colored, human-readable output
	// and lowers the default level to debug.
	Development bool
	// FilePath is the rotating JSON log file. Empty logs to console only.
	FilePath string
	// Level overrides the default level when non-empty (debug, info, warn,
	// error).
	Level string
	// File tunes rotation. Zero fields use defaults.
	File FileWriterConfig
}

// Logger owns the root zap logger and its level.
//
// Example:
//
//	logger, err := logging.NewLogger(logging.Config{FilePath: "sdqueue.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//	queueLog := logger.Named("queue")
type Logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
	cfg   Config
}

// NewLogger builds a Logger for cfg.
func NewLogger(cfg Config) (*Logger, error) {
	def := zapcore.InfoLevel
	if cfg.Development {
		def = zapcore.DebugLevel
	}
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level, def))

	console := zapcore.Lock(zapcore.AddSync(os.Stdout))
	var file zapcore.WriteSyncer
	if cfg.FilePath != "" {
		if err := ensureWritable(cfg.FilePath); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = NewFileWriter(cfg.FilePath, cfg.File)
	}

	core := NewMultiCore(level, console, file, cfg.Development)
	return &Logger{
		zap:   zap.New(NewRedactingCore(core), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		level: level,
		cfg:   cfg,
	}, nil
}

// Zap returns the root logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Named returns a child logger for one component.
func (l *Logger) Named(name string) *zap.Logger {
	return l.zap.Named(name)
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level reports the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// FilePath returns the log file path, empty when logging to console only.
func (l *Logger) FilePath() string {
	return l.cfg.FilePath
}

// Sync flushes buffered entries. Errors from syncing a terminal are
// ignored.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	err := l.zap.Sync()
	if err != nil && (strings.Contains(err.Error(), "invalid argument") ||
		strings.Contains(err.Error(), "inappropriate ioctl")) {
		return nil
	}
	return err
}

// ParseLevel parses a level name case-insensitively, falling back to def.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return def
	}
}

// ensureWritable fails early on an unwritable path; lumberjack would only
// report it on the first write.
func ensureWritable(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

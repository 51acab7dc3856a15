// Package logging provides structured logging for the finality engine:
// a thin wrapper over log/slog with the fields and component tags used
// consistently across forkdb, qc, voter, and finality.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// Logger wraps slog.Logger with fixed configuration for caller info and
// convenience helpers for the fields this package logs most often.
type Logger struct {
	*slog.Logger
	config *Config
}

// Config configures a Logger.
type Config struct {
	Level      slog.Level
	Format     string // "json" or "text"
	Output     string // "stdout", "stderr", or a file path
	AddSource  bool
	TimeFormat string
}

// Field is a single structured log field.
type Field struct {
	Key   string
	Value interface{}
}

// NewLogger builds a Logger from config, defaulting to DefaultConfig if
// config is nil.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer
	switch config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
	}

	handlerOpts := &slog.HandlerOptions{Level: config.Level, AddSource: config.AddSource}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return &Logger{Logger: slog.New(handler), config: config}, nil
}

// DefaultConfig returns text-to-stdout logging at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:      slog.LevelInfo,
		Format:     "text",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// WithFields returns a derived logger carrying the given fields on every
// subsequent call.
func (l *Logger) WithFields(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, len(fields)*2)
	for i, field := range fields {
		args[i*2] = field.Key
		args[i*2+1] = field.Value
	}
	return &Logger{Logger: l.Logger.With(args...), config: l.config}
}

// WithError returns a derived logger carrying the error's message and,
// if available, its svnnerr kind.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	fields := []Field{{Key: "error", Value: err.Error()}}
	var kinded *svnnerr.Error
	if errors.As(err, &kinded) {
		fields = append(fields, Field{Key: "error_kind", Value: string(kinded.Kind())})
	}
	return l.WithFields(fields...)
}

// WithComponent tags subsequent log lines with the originating component
// ("forkdb", "qc", "voter", "finality", ...).
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields(Field{Key: "component", Value: component})
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields...) }

func (l *Logger) log(level slog.Level, msg string, fields ...Field) {
	ctx := context.Background()
	if !l.Logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, len(fields))
	for i, field := range fields {
		attrs[i] = slog.Any(field.Key, field.Value)
	}

	if l.config.AddSource {
		_, file, line, ok := runtime.Caller(2)
		if ok {
			attrs = append(attrs, slog.Group("source", slog.String("file", file), slog.Int("line", line)))
		}
	}

	l.Logger.LogAttrs(ctx, level, msg, attrs...)
}

// LogVote logs a finalizer vote decision, one line per vote cast or
// rejected, the highest-volume log line in the engine.
func (l *Logger) LogVote(blockID string, blockNum uint32, strong bool, accepted bool, reason string) {
	level := slog.LevelInfo
	if !accepted {
		level = slog.LevelWarn
	}
	l.log(level, "finalizer vote",
		Field{Key: "block_id", Value: blockID},
		Field{Key: "block_num", Value: blockNum},
		Field{Key: "strong", Value: strong},
		Field{Key: "accepted", Value: accepted},
		Field{Key: "reason", Value: reason},
	)
}

// LogLIBAdvance logs a last-irreversible-block advance, the event that
// tells an operator the chain is making finality progress.
func (l *Logger) LogLIBAdvance(from, to uint32, finalizedBlockID string) {
	l.log(slog.LevelInfo, "lib advanced",
		Field{Key: "from_block_num", Value: from},
		Field{Key: "to_block_num", Value: to},
		Field{Key: "finalized_block_id", Value: finalizedBlockID},
	)
}

// ParseLevel parses a log level name.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

var globalLogger *Logger

// SetGlobalLogger installs the process-wide default logger.
func SetGlobalLogger(logger *Logger) { globalLogger = logger }

// GetGlobalLogger returns the process-wide logger, creating a default one
// on first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultConfig())
		globalLogger = logger
	}
	return globalLogger
}

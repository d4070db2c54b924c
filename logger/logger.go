// Package logger provides the structured logging interface used throughout the
// chat server, backed by zerolog, with optional daily-rotated log files.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Err returns a Field carrying err under the "error" key.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger writes leveled, structured log entries. Loggers derived with With
// carry their fields into every entry.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry. The receiver is
	// unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases resources held by the logger such as log files. It is
	// safe to call multiple times; derived loggers never close shared files.
	Close() error
}

type zerologLogger struct {
	logger     zerolog.Logger
	fileWriter *DailyFileWriter
}

// ParseLevel converts a level name ("debug", "info", "warn", "error", ...) to
// a zerolog.Level. The empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logger: unknown level %q: %w", level, err)
	}

	return lvl, nil
}

// NewZerologLogger wraps l, adding a service name and timestamp to all entries
// and dropping entries below level.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Added as the "service" field of every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger that writes through l
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewConsoleLogger returns a Logger writing JSON entries to stdout.
func NewConsoleLogger(serviceName string, level zerolog.Level) Logger {
	return NewZerologLogger(zerolog.New(os.Stdout), serviceName, level)
}

// NewZerologFileLogger returns a Logger writing to stdout and to daily-rotated
// files named {serviceName}_{date}.log under logDir. logDir is created if
// missing.
//
// Parameters:
//   - serviceName: Used in entries and in file names
//   - logDir: Directory for log files
//   - level: Minimum level to log
//
// Returns:
//   - The Logger, or an error if the directory or first file cannot be created
func NewZerologFileLogger(serviceName string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log directory: %w", err)
	}

	fileWriter, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, err
	}

	multi := io.MultiWriter(os.Stdout, fileWriter)
	return &zerologLogger{
		logger:     zerolog.New(multi).With().Str("service", serviceName).Timestamp().Logger().Level(level),
		fileWriter: fileWriter,
	}, nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
	}
}

func (z *zerologLogger) Close() error {
	if z.fileWriter != nil {
		return z.fileWriter.Close()
	}

	return nil
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}

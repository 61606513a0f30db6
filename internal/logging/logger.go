// Package logging provides the structured logger used across the runtime, scheduler, and executor packages.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the level-named convenience methods the rest of this module calls.
type Logger struct {
	z zerolog.Logger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Output io.Writer
	Pretty bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		Pretty: true,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	if config.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(output).Level(config.Level.zerolog()).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// With returns a child logger that stamps the given key-value pairs onto every subsequent
// line, used to attach a run's correlation ID and a device id to everything it emits.
func (l *Logger) With(args ...any) *Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(args); i += 2 {
		ctx = ctx.Interface(toKey(args[i]), args[i+1])
	}
	return &Logger{z: ctx.Logger()}
}

func toKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return "field"
}

func (l *Logger) event(e *zerolog.Event, msg string, args ...any) {
	for i := 0; i+1 < len(args); i += 2 {
		e = e.Interface(toKey(args[i]), args[i+1])
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) { l.event(l.z.Debug(), msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.event(l.z.Info(), msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.event(l.z.Warn(), msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.event(l.z.Error(), msg, args...) }

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.z.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.z.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

// Printf for compatibility
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

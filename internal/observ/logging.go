package observ

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects level and output format for the process logger.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

var (
	logMu  sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// SetupLogging replaces the process logger. A nil writer means stdout.
func SetupLogging(cfg LogConfig, out io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logMu.Lock()
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	logMu.Unlock()
	return nil
}

// Logger returns the current process logger.
func Logger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Log emits an info-level structured event.
func Log(event string, kv map[string]any) {
	l := Logger()
	emit(l.Info(), event, kv)
}

// Warn emits a warn-level structured event.
func Warn(event string, kv map[string]any) {
	l := Logger()
	emit(l.Warn(), event, kv)
}

// Error emits an error-level structured event carrying err.
func Error(event string, err error, kv map[string]any) {
	l := Logger()
	emit(l.Error().Err(err), event, kv)
}

// Debug emits a debug-level structured event.
func Debug(event string, kv map[string]any) {
	l := Logger()
	emit(l.Debug(), event, kv)
}

func emit(e *zerolog.Event, event string, kv map[string]any) {
	if e == nil {
		return
	}
	e = e.Str("event", event)
	for k, v := range kv {
		e = e.Interface(k, v)
	}
	e.Send()
}

// Package logging configures zerolog for the bridge and the dictation helper.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelEnv overrides the configured level when set.
const LevelEnv = "LCARS_LOG_LEVEL"

// Config holds logging configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Service string
	// LogDir enables a rotating log file next to the primary output when non-empty.
	LogDir string
	Output io.Writer
}

// DefaultConfig returns the console logging setup used by the CLI helpers.
func DefaultConfig(service string) Config {
	return Config{
		Level:   "info",
		Format:  "console",
		Service: service,
		Output:  os.Stderr,
	}
}

// Init builds the process logger and installs it as the zerolog global.
// The returned closer flushes the rotating file, if any.
func Init(cfg Config) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	var closer io.Closer = nopCloser{}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.LogDir, cfg.Service+".log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			}
			out = io.MultiWriter(out, rotator)
			closer = rotator
		}
	}

	logger := zerolog.New(out).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
	log.Logger = logger

	return logger, closer
}

// ParseLevel resolves the effective level, preferring LCARS_LOG_LEVEL.
func ParseLevel(configured string) zerolog.Level {
	raw := configured
	if env := os.Getenv(LevelEnv); env != "" {
		raw = env
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || raw == "" {
		return zerolog.InfoLevel
	}
	return level
}

// SetLevel changes the global level at runtime, e.g. after settings change.
func SetLevel(configured string) {
	zerolog.SetGlobalLevel(ParseLevel(configured))
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithSession returns a logger tagged with a dictation session.
func WithSession(component, sessionID string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("sessionId", sessionID).
		Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

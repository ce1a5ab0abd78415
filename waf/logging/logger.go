// Package logging wraps a global zerolog logger. Output goes to stderr,
// optionally mirrored into a rotated file.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level  string         `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format string         `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool           `koanf:"caller"`
	File   RotationConfig `koanf:"file"`

	// Output overrides stderr, mostly for tests
	Output io.Writer `koanf:"-"`
}

var (
	log    zerolog.Logger
	mu     sync.RWMutex
	closer io.Closer
)

func init() {
	initLogger(Config{})
}

// Init (re)configures the global logger. Safe to call more than once; a
// previously opened log file is closed.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	if lj := NewRotatingWriter(cfg.File); lj != nil {
		// file always gets JSON, whatever the console format
		out = io.MultiWriter(out, lj)
		closer = lj
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	zl := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		zl = zl.Caller()
	}
	log = zl.Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a copy of the global logger
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With returns a child logger tagged with component
func With(component string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", component).Logger()
}

func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}

// SetLevel changes the minimum level of every logger, including component
// loggers created earlier
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

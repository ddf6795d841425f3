package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls where logs go and what gets filtered out
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty for none
	Console   bool   // mirror logs to stderr
	Pretty    bool   // human format on the console
	Redaction bool   // scrub secrets before writing
	MaxSize   int    // MB before the file rotates
	MaxAge    int    // days rotated files are kept
	Compress  bool   // gzip rotated files
}

// DefaultConfig keeps logs readable on a workstation: pretty console
// output, redaction on, rotation at 100 MB.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}

// Logger owns the sink behind a zerolog.Logger so Close can release it
type Logger struct {
	zl   zerolog.Logger
	sink io.Closer
}

// New builds the logger and installs it as zerolog's global one. An
// unknown level falls back to info rather than failing startup.
func New(cfg Config) (*Logger, error) {
	out, sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{zl: zl, sink: sink}, nil
}

// buildSink assembles console, file, and redaction into one writer
func buildSink(cfg Config) (io.Writer, io.Closer, error) {
	var outs []io.Writer

	if cfg.Console {
		if cfg.Pretty {
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		} else {
			outs = append(outs, os.Stderr)
		}
	}

	var closer io.Closer
	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		outs = append(outs, rw)
		closer = rw
	}

	var out io.Writer
	switch len(outs) {
	case 0:
		out = os.Stderr
	case 1:
		out = outs[0]
	default:
		out = io.MultiWriter(outs...)
	}

	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}
	return out, closer, nil
}

// Close releases the log file if one is open
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// GetZerolog hands out the underlying logger for packages that take
// zerolog directly
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

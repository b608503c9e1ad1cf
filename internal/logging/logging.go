// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/config"
)

// New returns a zerolog logger writing to stderr: human-readable on a
// terminal or when format is "console", JSON otherwise.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

func NewWithWriter(cfg config.LogConfig, w io.Writer, tty bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := w
	switch cfg.Format {
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	case "json":
	default:
		if tty {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "ajo-ledger").Logger()
}

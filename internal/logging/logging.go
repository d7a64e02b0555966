// Package logging builds the single structured logger every component
// writes through, in place of the "opaque append-only text writer"
// spec.md treats as an external collaborator.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing JSON lines to the configured log
// file (spec.md §6 "logfile"), falling back to stdout if the file can't
// be opened, at the given level ("debug", "info", "warn", "error").
func New(logfile, level string, verbose bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if logfile != "" {
		f, err := os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			out = f
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if verbose && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Logger()
}

package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// newLogger builds a zerolog.Logger writing colorized console output when w
// is a terminal, or plain JSON lines otherwise (e.g. piped into another
// tool or a CI log collector).
func newLogger(w io.Writer) zerolog.Logger {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Package sysutil holds process-level helpers shared by the server binary:
// global log level selection and construction of the root zerolog logger.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SetLogLevel sets the global zerolog level from a case-insensitive name
// (debug, info, warn or warning, error, fatal, panic). Anything else means info.
func SetLogLevel(lvl string) {
	name := strings.ToLower(strings.TrimSpace(lvl))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level < zerolog.DebugLevel || level > zerolog.PanicLevel || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// NewLogger builds the root logger. pretty selects a human-readable console
// writer; otherwise JSON lines are written to w (os.Stderr when nil).
func NewLogger(w io.Writer, pretty bool, service string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	ctx := zerolog.New(w).With().Timestamp()
	if s := strings.TrimSpace(service); s != "" {
		ctx = ctx.Str("service", s)
	}
	return ctx.Logger()
}

// FirstNonEmpty returns the first value that is not blank, unchanged, or "".
func FirstNonEmpty(vals ...string) string {
	return lo.FindOrElse(vals, "", func(v string) bool { return strings.TrimSpace(v) != "" })
}

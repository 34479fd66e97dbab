// Package logging builds the zerolog logger shared by the CLI, the API server
// and the sweep daemon.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config controls basic logger behaviour.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Out    io.Writer
}

// New constructs a timestamped zerolog logger from cfg. Out defaults to stderr.
func New(cfg Config) zerolog.Logger {
	w := cfg.Out
	if w == nil {
		w = os.Stderr
	}
	if strings.ToLower(cfg.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Nop returns a logger that drops everything.
func Nop() zerolog.Logger { return zerolog.Nop() }

// Into attaches l to ctx so lower layers can recover it with zerolog.Ctx.
func Into(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

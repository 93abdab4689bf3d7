package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/config"
)

// New returns a configured zerolog.Logger for the given environment.
func New(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Logger()
}

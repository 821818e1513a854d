// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	App    string
	Level  string
	Format string // console or json

	// Out defaults to os.Stderr.
	Out io.Writer
	// Tee also receives every log line, e.g. the web log buffer.
	Tee io.Writer
}

// New builds a logger and installs it as the zerolog global.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") || cfg.Format == "" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Tee != nil {
		// The tee gets plain console text so it reads well in /api/logs.
		tee := zerolog.ConsoleWriter{Out: cfg.Tee, TimeFormat: time.RFC3339, NoColor: true}
		out = zerolog.MultiLevelWriter(out, tee)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger, nil
}

func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log.level %q: %w", s, err)
	}
	return lvl, nil
}

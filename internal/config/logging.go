package config

import (
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/gridpulse/internal/errs"
)

func (c LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if c.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, errs.Config("logging.level", "unknown level %q", c.Level)
	}
	return level, nil
}

func (c LoggingConfig) validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	}
	return errs.Config("logging.format", "must be text or json, got %q", c.Format)
}

// NewLogger builds the slog logger described by the logging section.
func (c LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

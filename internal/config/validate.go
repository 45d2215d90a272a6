package config

import (
	"net/url"
	"slices"

	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/errs"
)

// Validate checks that all required fields are set and values are valid.
// Component settings are checked by converting them and running the
// component's own validation, so field names match the YAML keys.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errs.Config("server.url", "is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return errs.Config("server.url", "invalid: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errs.Config("server.url", "scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Server.Token == "" && c.Server.TokenFile == "" {
		return errs.Config("server.token", "server.token or server.token_file is required")
	}

	kinds := make([]string, 0, len(c.Dispatch.Kinds))
	for kind := range c.Dispatch.Kinds {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		if mode := c.Dispatch.Kinds[kind].Mode; mode != "" {
			if _, err := dispatch.ParseMode(mode); err != nil {
				return errs.Config("dispatch.kinds."+kind+".mode", "%v", err)
			}
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errs.Config("metrics.port", "must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}

	rt, err := c.Realtime()
	if err != nil {
		return err
	}
	return rt.Validate()
}

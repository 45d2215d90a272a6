package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/gridpulse/internal/auth"
	"github.com/rickgao/gridpulse/internal/realtime"
	"github.com/rickgao/gridpulse/internal/wstest"
)

// InvalidToken is a credential that looks like a JWT but is not one.
const InvalidToken = "token.expirado.invalido"

// Options configures a Harness.
type Options struct {
	// Token is presented by every scenario except InvalidCredential.
	Token string

	// Timeout bounds each wait inside a scenario.
	Timeout time.Duration

	// Seed seeds packet loss.
	Seed uint64

	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Token:   "harness-token",
		Timeout: 5 * time.Second,
		Seed:    1,
	}
}

// Harness runs scenarios against a wstest.Server.
type Harness struct {
	server *wstest.Server
	opts   Options
	logger *slog.Logger
}

// New creates a Harness for server.
func New(server *wstest.Server, opts Options) *Harness {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.Token == "" {
		opts.Token = DefaultOptions().Token
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		server: server,
		opts:   opts,
		logger: logger.With("component", "harness"),
	}
}

// config returns the client configuration used by scenarios: fast backoff
// so recovery fits in a test run.
func (h *Harness) config() realtime.Config {
	cfg := realtime.DefaultConfig(h.server.URL())
	cfg.Connection.BaseBackoff = 25 * time.Millisecond
	cfg.Connection.MaxBackoff = 250 * time.Millisecond
	cfg.Connection.HandshakeTimeout = h.opts.Timeout
	cfg.HealthInterval = 0
	return cfg
}

func (h *Harness) newClient(mutate func(*realtime.Config), opts ...realtime.Option) (*realtime.Client, error) {
	cfg := h.config()
	if mutate != nil {
		mutate(&cfg)
	}
	return realtime.New(cfg, h.logger, opts...)
}

func (h *Harness) creds() auth.Credentials {
	return auth.Credentials{Token: h.opts.Token}
}

// waitFor polls condition until it holds or the harness timeout expires.
func (h *Harness) waitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	if condition() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, h.opts.Timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// Scenario is a named harness scenario with its default parameters.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, h *Harness) Result
}

// Scenarios lists every scenario with default parameters.
func Scenarios() []Scenario {
	return []Scenario{
		{"inject-latency", func(ctx context.Context, h *Harness) Result {
			return h.InjectLatency(ctx, 50*time.Millisecond, 0.1, 100)
		}},
		{"forced-disconnect", func(ctx context.Context, h *Harness) Result {
			return h.ForcedDisconnect(ctx, 300*time.Millisecond)
		}},
		{"parallel-connections", func(ctx context.Context, h *Harness) Result {
			return h.ParallelConnections(ctx, 3)
		}},
		{"invalid-credential", func(ctx context.Context, h *Harness) Result {
			return h.InvalidCredential(ctx, InvalidToken)
		}},
		{"event-flood", func(ctx context.Context, h *Harness) Result {
			return h.EventFlood(ctx, 1000, 0)
		}},
	}
}

// Run executes the scenarios in order and collects a Report.
func (h *Harness) Run(ctx context.Context, scenarios []Scenario) Report {
	report := Report{RunID: uuid.NewString(), Succeeded: true}
	logger := h.logger.With("run_id", report.RunID)

	for _, sc := range scenarios {
		if ctx.Err() != nil {
			break
		}
		logger.Info("running scenario", "scenario", sc.Name)
		res := sc.Run(ctx, h)
		if res.Name == "" {
			res.Name = sc.Name
		}
		logger.Info("scenario finished",
			"scenario", res.Name,
			"succeeded", res.Succeeded,
			"duration", res.Duration,
			"message", res.Message,
		)
		report.Results = append(report.Results, res)
		if !res.Succeeded {
			report.Succeeded = false
		}
	}
	return report
}

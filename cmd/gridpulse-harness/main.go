package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/gridpulse/internal/config"
	"github.com/rickgao/gridpulse/internal/harness"
	"github.com/rickgao/gridpulse/internal/version"
	"github.com/rickgao/gridpulse/internal/wstest"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridpulse-harness",
	Short: "Adverse-condition harness for the gridpulse client",
	Long: `gridpulse-harness starts an in-process event server and drives the
gridpulse client through injected latency, packet loss, forced
disconnects, parallel connections, rejected credentials and event floods.

Every scenario prints a JSON report; the exit code is non-zero when any
scenario fails.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"gridpulse-harness version %s\nCommit: %s\nBuilt: %s\n",
		version.Version, version.Commit, version.BuildTime,
	))

	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "Timeout for each wait inside a scenario")
	rootCmd.PersistentFlags().Uint64("seed", 1, "Seed for packet loss")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("compact", false, "Print the report on one line")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(latencyCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(parallelCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(floodCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every scenario with default parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd, harness.Scenarios())
	},
}

var latencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Inject inbound latency and packet loss",
	RunE: func(cmd *cobra.Command, args []string) error {
		latency, _ := cmd.Flags().GetDuration("latency")
		loss, _ := cmd.Flags().GetFloat64("loss")
		events, _ := cmd.Flags().GetInt("events")
		if loss < 0 || loss > 1 {
			return fmt.Errorf("--loss must be within [0, 1], got %v", loss)
		}
		return execute(cmd, []harness.Scenario{{
			Name: "inject-latency",
			Run: func(ctx context.Context, h *harness.Harness) harness.Result {
				return h.InjectLatency(ctx, latency, loss, events)
			},
		}})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Take the server down and sever the connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		downtime, _ := cmd.Flags().GetDuration("downtime")
		return execute(cmd, []harness.Scenario{{
			Name: "forced-disconnect",
			Run: func(ctx context.Context, h *harness.Harness) harness.Result {
				return h.ForcedDisconnect(ctx, downtime)
			},
		}})
	},
}

var parallelCmd = &cobra.Command{
	Use:   "parallel",
	Short: "Open several independent clients at once",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("connections")
		return execute(cmd, []harness.Scenario{{
			Name: "parallel-connections",
			Run: func(ctx context.Context, h *harness.Harness) harness.Result {
				return h.ParallelConnections(ctx, n)
			},
		}})
	},
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Connect with an invalid credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		return execute(cmd, []harness.Scenario{{
			Name: "invalid-credential",
			Run: func(ctx context.Context, h *harness.Harness) harness.Result {
				return h.InvalidCredential(ctx, token)
			},
		}})
	},
}

var floodCmd = &cobra.Command{
	Use:   "flood",
	Short: "Flood the client with events",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetInt("events")
		perSecond, _ := cmd.Flags().GetFloat64("rate")
		return execute(cmd, []harness.Scenario{{
			Name: "event-flood",
			Run: func(ctx context.Context, h *harness.Harness) harness.Result {
				return h.EventFlood(ctx, events, perSecond)
			},
		}})
	},
}

func init() {
	latencyCmd.Flags().Duration("latency", 50*time.Millisecond, "Delay added to every inbound frame")
	latencyCmd.Flags().Float64("loss", 0.1, "Probability of dropping an inbound frame")
	latencyCmd.Flags().Int("events", 100, "Number of events to broadcast")

	disconnectCmd.Flags().Duration("downtime", 300*time.Millisecond, "How long the server refuses connections")

	parallelCmd.Flags().Int("connections", 3, "Number of concurrent clients")

	credentialCmd.Flags().String("token", harness.InvalidToken, "Credential to present")

	floodCmd.Flags().Int("events", 1000, "Number of events to broadcast")
	floodCmd.Flags().Float64("rate", 0, "Events per second (0 for no limit)")
}

// execute starts a server, runs the scenarios and prints the report.
func execute(cmd *cobra.Command, scenarios []harness.Scenario) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	seed, _ := cmd.Flags().GetUint64("seed")
	level, _ := cmd.Flags().GetString("log-level")
	compact, _ := cmd.Flags().GetBool("compact")

	logger, err := config.LoggingConfig{Level: level, Format: "text"}.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := wstest.New(wstest.Options{Logger: logger})
	defer server.Close()

	h := harness.New(server, harness.Options{
		Timeout: timeout,
		Seed:    seed,
		Logger:  logger,
	})
	report := h.Run(ctx, scenarios)

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted after %d of %d scenarios", len(report.Results), len(scenarios))
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("scenarios failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

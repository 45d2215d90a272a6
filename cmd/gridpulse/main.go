// gridpulse connects to a telemetry event server and logs the events it
// receives through the dispatch mode configured for each kind.
// Usage: go run ./cmd/gridpulse --config configs/gridpulse.example.yaml
//
// Required environment variables (unless server.token_file is set):
//
//	GRIDPULSE_TOKEN - bearer token for the event server
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rickgao/gridpulse/internal/config"
	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
	"github.com/rickgao/gridpulse/internal/metrics"
	"github.com/rickgao/gridpulse/internal/realtime"
	"github.com/rickgao/gridpulse/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gridpulse.example.yaml", "path to config file")
	statsInterval := flag.Duration("stats", 10*time.Second, "interval between stats log lines (0 disables)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger(os.Stdout)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting gridpulse",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"server", cfg.Server.URL,
	)

	if err := run(cfg, *statsInterval, logger); err != nil {
		logger.Error("gridpulse failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gridpulse stopped")
}

func run(cfg *config.Config, statsInterval time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	rtCfg, err := cfg.Realtime()
	if err != nil {
		return err
	}
	creds, err := cfg.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	modes, err := cfg.KindModes()
	if err != nil {
		return err
	}

	client, err := realtime.New(rtCfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	client.OnStateChange(func(sc connection.StateChange) {
		attrs := []any{"from", sc.From.String(), "to", sc.To.String()}
		if sc.Err != nil {
			attrs = append(attrs, "error", sc.Err)
		}
		logger.Info("connection state changed", attrs...)
	})

	latest, err := bindKinds(client, modes, logger)
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics, client, logger)
	}

	logger.Info("connecting", "token", creds.Redacted())
	if err := client.Connect(ctx, creds); err != nil {
		if !errs.IsTransient(err) {
			return fmt.Errorf("connect: %w", err)
		}
		logger.Warn("initial connection failed, retrying in background", "error", err)
	}

	if statsInterval > 0 {
		go logStats(ctx, client, latest, statsInterval, logger)
	}

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down...")
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	return client.Close()
}

// bindKinds attaches one binding per configured kind. Kinds without a
// configured mode get a direct binding when they are part of the known
// catalogue. It returns the latest-value holders for the stats logger.
func bindKinds(client *realtime.Client, modes map[string]dispatch.Mode, logger *slog.Logger) (map[string]*dispatch.LatestValue, error) {
	for _, kind := range event.Known() {
		if _, ok := modes[kind]; !ok {
			modes[kind] = dispatch.ModeDirect
		}
	}

	kinds := make([]string, 0, len(modes))
	for kind := range modes {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	latest := make(map[string]*dispatch.LatestValue)
	for _, kind := range kinds {
		mode := modes[kind]
		switch mode {
		case dispatch.ModeLatest:
			lv, _, err := client.Latest(kind, 0)
			if err != nil {
				return nil, fmt.Errorf("bind %s: %w", kind, err)
			}
			latest[kind] = lv

		case dispatch.ModeAggregate:
			_, err := client.Subscribe(kind, mode, dispatch.Options{Reduce: summarize}, deliveryLogger(logger, mode))
			if err != nil {
				return nil, fmt.Errorf("bind %s: %w", kind, err)
			}

		default:
			_, err := client.Subscribe(kind, mode, dispatch.Options{}, deliveryLogger(logger, mode))
			if err != nil {
				return nil, fmt.Errorf("bind %s: %w", kind, err)
			}
		}
		logger.Info("bound kind", "kind", kind, "mode", mode.String())
	}
	return latest, nil
}

// summarize reduces an aggregation window to a batch envelope carrying
// the count and the payloads in arrival order.
func summarize(batch []event.Event) event.Event {
	payloads := make([]json.RawMessage, len(batch))
	for i, ev := range batch {
		payloads[i] = ev.Payload
	}
	data, _ := json.Marshal(struct {
		Count  int               `json:"count"`
		Events []json.RawMessage `json:"events"`
	}{len(batch), payloads})

	last := batch[len(batch)-1]
	return event.Event{Kind: last.Kind, Payload: data, ReceivedAt: last.ReceivedAt}
}

func deliveryLogger(logger *slog.Logger, mode dispatch.Mode) dispatch.Handler {
	return func(ev event.Event) {
		logger.Info("event",
			"kind", ev.Kind,
			"mode", mode.String(),
			"received_at", ev.ReceivedAt.Format(time.RFC3339Nano),
			"payload", string(ev.Payload),
		)
	}
}

func startMetricsServer(cfg config.MetricsConfig, client *realtime.Client, logger *slog.Logger) *http.Server {
	reg := metrics.NewRegistry(metrics.NewCollector(client, nil))

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler(reg))
	mux.Handle("/health", metrics.HealthHandler(client))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Port, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func logStats(ctx context.Context, client *realtime.Client, latest map[string]*dispatch.LatestValue, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := client.Metrics()
			st := client.StoreStats()
			ds := client.DispatchStats()
			logger.Info("stats",
				"state", m.State.String(),
				"degraded", m.Degraded,
				"events_received", m.EventsReceived,
				"events_sent", m.EventsSent,
				"events_dropped", m.EventsDropped,
				"malformed", m.MalformedFrames,
				"outbound_queued", m.OutboundQueued,
				"reconnect_attempts", m.Reconnection.AttemptCount,
				"uptime", m.Uptime(time.Now()).Round(time.Second),
				"stored_events", st.TotalEvents,
				"stored_bytes", st.TotalBytes,
				"delivered", ds.Delivered,
				"listeners", client.ListenerStats().Total,
			)
			for kind, lv := range latest {
				snap := lv.Get()
				if !snap.OK {
					logger.Info("latest", "kind", kind, "value", nil)
					continue
				}
				logger.Info("latest",
					"kind", kind,
					"stale", snap.IsStale,
					"age", snap.Age.Round(time.Millisecond),
					"payload", string(snap.Event.Payload),
				)
			}
		}
	}
}

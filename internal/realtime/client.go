package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gridpulse/internal/auth"
	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/resource"
	"github.com/rickgao/gridpulse/internal/store"
)

// Config holds the configuration of every owned component.
type Config struct {
	Connection connection.ManagerConfig
	Store      store.Config
	Dispatch   dispatch.Config
	Resources  resource.Config

	// HealthInterval runs a periodic health check, which logs transitions
	// between healthy and unhealthy. Zero disables it.
	HealthInterval time.Duration
}

// DefaultConfig returns defaults for a server at url.
func DefaultConfig(url string) Config {
	conn := connection.DefaultManagerConfig()
	conn.URL = url
	return Config{
		Connection:     conn,
		Store:          store.DefaultConfig(),
		Dispatch:       dispatch.DefaultConfig(),
		Resources:      resource.DefaultConfig(),
		HealthInterval: time.Minute,
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Resources.Validate(); err != nil {
		return err
	}
	if c.HealthInterval < 0 {
		return errs.Config("resources.health_interval", "must be >= 0, got %v", c.HealthInterval)
	}
	return nil
}

// Option configures a Client.
type Option func(*options)

type options struct {
	clock        clock.Clock
	connOpts     []connection.ManagerOption
	resourceOpts []resource.Option
}

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithDialer replaces the websocket client factory.
func WithDialer(d connection.Dialer) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, connection.WithDialer(d)) }
}

// WithConnectionOptions passes options through to the Connection Manager.
func WithConnectionOptions(opts ...connection.ManagerOption) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

// WithResourceOptions passes options through to the Resource Manager.
func WithResourceOptions(opts ...resource.Option) Option {
	return func(o *options) { o.resourceOpts = append(o.resourceOpts, opts...) }
}

// Client is the consumer-facing context object.
type Client struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	conn      *connection.Manager
	store     *store.Store
	dispatch  *dispatch.Dispatcher
	resources *resource.Manager

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// New builds and starts a Client. The connection stays Disconnected until
// Connect is called.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	clk := clock.OrReal(o.clock)

	st, err := store.New(cfg.Store, clk, logger)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(cfg.Resources, st, clk, logger, o.resourceOpts...)
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(cfg.Dispatch, clk, res, logger)
	if err != nil {
		return nil, err
	}
	connOpts := append([]connection.ManagerOption{connection.WithClock(clk)}, o.connOpts...)
	conn, err := connection.NewManager(cfg.Connection, logger, connOpts...)
	if err != nil {
		disp.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	c := &Client{
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With("component", "realtime"),
		conn:      conn,
		store:     st,
		dispatch:  disp,
		resources: res,
		cancel:    cancel,
		group:     group,
	}

	group.Go(c.route)
	if cfg.HealthInterval > 0 {
		group.Go(func() error { return c.monitor(ctx) })
	}
	return c, nil
}

// route appends every inbound event to the store and publishes the stored
// copy. It ends when the connection manager closes its Events channel.
func (c *Client) route() error {
	for ev := range c.conn.Events() {
		stored := c.store.Append(ev.Kind, ev.Payload)
		c.dispatch.Publish(stored)
	}
	return nil
}

func (c *Client) monitor(ctx context.Context) error {
	ticker, tick := c.clock.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			c.resources.HealthCheck()
		}
	}
}

// Connect starts the connection; see connection.Manager.Connect.
func (c *Client) Connect(ctx context.Context, creds auth.Credentials) error {
	return c.conn.Connect(ctx, creds)
}

// Disconnect closes the connection and cancels pending reconnection.
// Subscriptions and stored history are kept.
func (c *Client) Disconnect() error {
	return c.conn.Disconnect()
}

// Subscribe binds fn to kind with the given mode.
func (c *Client) Subscribe(kind string, mode dispatch.Mode, opts dispatch.Options, fn dispatch.Handler) (dispatch.Unsubscribe, error) {
	return c.dispatch.Subscribe(kind, mode, opts, fn)
}

// Latest creates a latest-value binding for kind.
func (c *Client) Latest(kind string, threshold time.Duration) (*dispatch.LatestValue, dispatch.Unsubscribe, error) {
	return c.dispatch.Latest(kind, threshold)
}

// Send writes a command, queueing it while the connection is down.
func (c *Client) Send(kind string, payload any) error {
	return c.conn.Send(kind, payload)
}

// State returns the connection state.
func (c *Client) State() connection.State { return c.conn.State() }

// Status returns the connection state plus health flags.
func (c *Client) Status() connection.Status { return c.conn.Status() }

// Metrics returns the connection ledger snapshot.
func (c *Client) Metrics() connection.Metrics { return c.conn.Metrics() }

// ListenerStats returns listener counts by kind.
func (c *Client) ListenerStats() resource.ListenerStats { return c.resources.ListenerStats() }

// Health runs a resource health check.
func (c *Client) Health() resource.HealthReport { return c.resources.HealthCheck() }

// StoreStats returns per-kind store statistics.
func (c *Client) StoreStats() store.Stats { return c.store.Stats() }

// DispatchStats returns dispatcher counters.
func (c *Client) DispatchStats() dispatch.Stats { return c.dispatch.Stats() }

// OnStateChange registers a connection state observer.
func (c *Client) OnStateChange(fn func(connection.StateChange)) (cancel func()) {
	return c.conn.OnStateChange(fn)
}

// Store returns the event store.
func (c *Client) Store() *store.Store { return c.store }

// Dispatcher returns the dispatcher for typed subscriptions.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatch }

// Resources returns the resource manager.
func (c *Client) Resources() *resource.Manager { return c.resources }

// Close disconnects, drains the route loop and stops every binding.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		err := c.conn.Close()
		if gerr := c.group.Wait(); err == nil {
			err = gerr
		}
		c.dispatch.Close()
		c.closeErr = err
		c.logger.Debug("client closed")
	})
	return c.closeErr
}

package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/gridpulse/internal/auth"
	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
	"github.com/rickgao/gridpulse/internal/ring"
)

// Manager owns the websocket connection, its state machine and the
// outbound queue.
type Manager struct {
	cfg     ManagerConfig
	dial    Dialer
	clock   clock.Clock
	logger  *slog.Logger
	backoff Backoff
	ledger  *Ledger

	events chan event.Event

	// sendMu orders Send against the queue flush on connect.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	creds    auth.Credentials
	client   Client
	gen      uint64 // bumped by Connect and Disconnect; stale goroutines compare
	cancel   context.CancelFunc
	lastErr  error
	outbound *ring.Ring[[]byte]
	closed   bool

	obsMu     sync.Mutex
	observers map[uint64]func(StateChange)
	nextObs   uint64
	changes   *ring.Queue[StateChange]

	wg         sync.WaitGroup
	notifyDone chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the websocket client factory.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) { m.dial = d }
}

// WithClock replaces the clock used for backoff and heartbeat timers.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock.OrReal(c) }
}

// WithJitterSource replaces the jitter random source. f returns a value in
// [0, n).
func WithJitterSource(f func(n time.Duration) time.Duration) ManagerOption {
	return func(m *Manager) { m.backoff.randN = f }
}

// NewManager creates a Connection Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		dial:   NewClient,
		clock:  clock.Real{},
		logger: logger.With("component", "connection"),
		backoff: Backoff{
			Base:   cfg.BaseBackoff,
			Max:    cfg.MaxBackoff,
			Jitter: cfg.JitterFraction,
		},
		ledger:     NewLedger(cfg.DegradedAfterAttempts),
		events:     make(chan event.Event, cfg.EventBufferSize),
		outbound:   ring.New[[]byte](cfg.OutboundQueueCapacity),
		observers:  make(map[uint64]func(StateChange)),
		changes:    ring.NewQueue[StateChange](16),
		notifyDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.notifyLoop()
	return m, nil
}

// Connect starts a connection with creds. It is a no-op unless the
// manager is Disconnected.
//
// An authentication rejection returns *errs.AuthError and leaves the
// manager Disconnected. Any other failure moves it to Reconnecting and
// the error is returned for information while retries continue in the
// background.
func (m *Manager) Connect(ctx context.Context, creds auth.Credentials) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.ErrClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	if err := creds.Validate(m.clock.Now()); err != nil {
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("credentials rejected locally", "error", err)
		return err
	}

	m.creds = creds
	m.gen++
	gen := m.gen
	sessionCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.transitionLocked(StateConnecting, nil)
	m.mu.Unlock()

	// The caller's ctx bounds the handshake only; the session outlives it.
	// Disconnect aborts the handshake through sessionCtx.
	dctx, dcancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sessionCtx, dcancel)
	client, err := m.dialOnce(dctx, creds)
	stop()
	dcancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if client != nil {
			client.Close()
		}
		return fmt.Errorf("connect: %w", errs.ErrNotConnected)
	}

	if err != nil {
		m.ledger.attemptFailed(m.clock.Now())
		if errs.IsAuth(err) {
			m.cancel()
			m.transitionLocked(StateDisconnected, err)
			m.mu.Unlock()
			m.logger.Warn("authentication rejected", "error", err)
			return err
		}

		m.transitionLocked(StateReconnecting, err)
		m.startReconnectLocked(sessionCtx, gen)
		m.mu.Unlock()
		m.logger.Warn("connect failed, retrying in background", "error", err)
		return err
	}
	m.mu.Unlock()

	m.promote(sessionCtx, gen, client)
	return nil
}

// dialOnce creates a client and performs the handshake, bounded by
// HandshakeTimeout.
func (m *Manager) dialOnce(ctx context.Context, creds auth.Credentials) (Client, error) {
	cfg := m.cfg.clientConfig()
	cfg.Header = creds.Header()

	c := m.dial(cfg, m.logger)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	if err := c.Connect(dctx); err != nil {
		c.Close()
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && !errs.IsAuth(err) && !errors.Is(err, errs.ErrHandshakeTimeout) {
			err = errs.Transient("dial", fmt.Errorf("%w: %v", errs.ErrHandshakeTimeout, err))
		}
		return nil, err
	}
	return c, nil
}

// promote installs a connected client, flushes queued commands in order and
// starts the session loop. It returns false if the attempt went stale.
func (m *Manager) promote(ctx context.Context, gen uint64, c Client) bool {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if gen != m.gen || ctx.Err() != nil {
		m.mu.Unlock()
		c.Close()
		return false
	}
	now := m.clock.Now()
	m.client = c
	m.ledger.connected(now)
	m.transitionLocked(StateConnected, nil)
	pending := m.outbound.Drain()

	m.wg.Add(1)
	go m.runSession(ctx, gen, c)
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL, "flushing", len(pending))

	for i, data := range pending {
		if err := c.Send(data); err != nil {
			m.logger.Warn("flush interrupted, requeueing", "remaining", len(pending)-i, "error", err)
			m.mu.Lock()
			for _, rest := range pending[i:] {
				m.enqueueLocked(rest)
			}
			m.mu.Unlock()
			break
		}
		m.ledger.sent()
	}
	return true
}

// runSession reads frames, runs the heartbeat and reports transport loss.
// The session is lost once nothing (frame or pong) has arrived for
// HeartbeatTimeout.
func (m *Manager) runSession(ctx context.Context, gen uint64, c Client) {
	defer m.wg.Done()

	ticker, tick := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	deadline, expired := m.clock.NewTimer(m.cfg.HeartbeatTimeout)
	defer deadline.Stop()

	logger := m.logger.With("session", gen)
	lastAck := m.clock.Now()
	peerAck := c.LastAck()

	// observeAck folds a pong seen by the client into lastAck.
	observeAck := func() {
		if ack := c.LastAck(); ack.After(peerAck) {
			peerAck = ack
			lastAck = m.clock.Now()
			if d, ok := c.Latency(); ok {
				m.ledger.latency(d)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-c.Errors():
			if err == nil {
				err = errs.Transient("read", io.EOF)
			}
			m.sessionLost(gen, c, err)
			return

		case msg, ok := <-c.Messages():
			if !ok {
				m.sessionLost(gen, c, errs.Transient("read", io.EOF))
				return
			}
			lastAck = m.clock.Now()
			m.handleInbound(msg, logger)

		case <-tick:
			observeAck()
			if err := c.Ping(); err != nil {
				m.sessionLost(gen, c, errs.Transient("heartbeat", err))
				return
			}

		case <-expired:
			observeAck()
			silent := m.clock.Since(lastAck)
			if remaining := m.cfg.HeartbeatTimeout - silent; remaining > 0 {
				deadline.Reset(remaining)
				continue
			}
			logger.Warn("heartbeat timeout, peer is silent",
				"silent_for", silent,
				"timeout", m.cfg.HeartbeatTimeout,
			)
			m.sessionLost(gen, c, errs.Transient("heartbeat", ErrHeartbeatTimeout))
			return
		}
	}
}

func (m *Manager) handleInbound(msg TimestampedMessage, logger *slog.Logger) {
	env, err := event.DecodeEnvelope(msg.Data)
	if err != nil {
		m.ledger.malformed()
		logger.Debug("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}
	m.ledger.received()

	ev := event.Event{Kind: env.Kind, Payload: env.Payload, ReceivedAt: m.clock.Now()}
	select {
	case m.events <- ev:
	default:
		// Log the first drop and then every thousandth.
		if n := m.ledger.dropped(); n == 1 || n%1000 == 0 {
			logger.Warn("event buffer full, dropping event", "kind", env.Kind, "dropped_total", n)
		}
	}
}

// sessionLost moves a Connected manager to Reconnecting.
func (m *Manager) sessionLost(gen uint64, c Client, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected || m.client != c {
		m.mu.Unlock()
		return
	}
	m.ledger.disconnected(m.clock.Now())
	m.client = nil

	// A fresh context for the retry loop; the session's one is cancelled
	// with the session.
	m.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.transitionLocked(StateReconnecting, cause)
	m.startReconnectLocked(ctx, gen)
	m.mu.Unlock()

	c.Close()
	m.logger.Warn("connection lost", "error", cause)
}

func (m *Manager) startReconnectLocked(ctx context.Context, gen uint64) {
	m.wg.Add(1)
	go m.reconnectLoop(ctx, gen)
}

// reconnectLoop retries with exponential backoff until connected,
// cancelled, rejected or out of attempts.
func (m *Manager) reconnectLoop(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	for attempt := 1; ; attempt++ {
		wait := m.backoff.Delay(attempt)
		next := m.clock.Now().Add(wait)
		timer, fired := m.clock.NewTimer(wait)
		m.ledger.scheduled(next)

		select {
		case <-ctx.Done():
			timer.Stop()
			m.ledger.unscheduled()
			return
		case <-fired:
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		creds := m.creds
		m.mu.Unlock()

		m.logger.Info("attempting reconnection", "attempt", attempt, "waited", wait)
		c, err := m.dialOnce(ctx, creds)
		if err == nil {
			if m.promote(ctx, gen, c) {
				m.logger.Info("reconnected", "attempt", attempt)
			}
			return
		}

		m.mu.Lock()
		if gen != m.gen || ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		info := m.ledger.attemptFailed(m.clock.Now())

		if errs.IsAuth(err) {
			m.gen++
			m.cancel()
			m.transitionLocked(StateDisconnected, err)
			m.mu.Unlock()
			m.logger.Warn("authentication rejected during reconnection", "error", err)
			return
		}

		if max := m.cfg.MaxReconnectAttempts; max > 0 && attempt >= max {
			exhausted := fmt.Errorf("%w after %d attempts: %v", errs.ErrReconnectExhausted, attempt, err)
			m.gen++
			m.cancel()
			m.transitionLocked(StateDisconnected, exhausted)
			m.mu.Unlock()
			m.logger.Error("giving up reconnection", "attempts", attempt, "error", err)
			return
		}

		m.lastErr = err
		m.mu.Unlock()

		m.logger.Warn("reconnection failed",
			"attempt", attempt,
			"consecutive_failures", info.AttemptCount,
			"degraded", info.AttemptCount >= m.cfg.DegradedAfterAttempts,
			"error", err,
		)
	}
}

// Disconnect closes the connection from any state, cancels pending
// reconnection and drops queued commands.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	c := m.client
	m.client = nil
	if m.state == StateConnected {
		m.ledger.disconnected(m.clock.Now())
	}
	m.ledger.unscheduled()
	dropped := m.outbound.Len()
	m.outbound.Clear()
	m.transitionLocked(StateDisconnected, nil)
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if dropped > 0 {
		m.logger.Info("dropped queued commands on disconnect", "count", dropped)
	}
	return nil
}

// Send encodes a command and writes it, or queues it while not connected
// or when the write fails. Only encoding errors are returned.
func (m *Manager) Send(kind string, payload any) error {
	data, err := event.Encode(kind, payload)
	if err != nil {
		return err
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.ErrClosed
	}
	c := m.client
	if m.state != StateConnected || c == nil {
		m.enqueueLocked(data)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := c.Send(data); err != nil {
		m.logger.Debug("send failed, queueing", "kind", kind, "error", err)
		m.mu.Lock()
		m.enqueueLocked(data)
		m.mu.Unlock()
		return nil
	}
	m.ledger.sent()
	return nil
}

func (m *Manager) enqueueLocked(data []byte) {
	if _, evicted := m.outbound.Push(data); evicted {
		m.logger.Warn("outbound queue full, evicted oldest command",
			"capacity", m.outbound.Cap(),
			"error", errs.ErrBufferOverflow,
		)
	}
}

// Events returns inbound events in arrival order.
func (m *Manager) Events() <-chan event.Event {
	return m.events
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the state plus health flags.
func (m *Manager) Status() Status {
	snap := m.ledger.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.state,
		Degraded:      snap.Degraded,
		LastError:     m.lastErr,
		Attempts:      snap.Reconnection.AttemptCount,
		NextAttemptAt: snap.Reconnection.NextAttemptAt,
	}
}

// Metrics returns a ledger snapshot.
func (m *Manager) Metrics() Metrics {
	snap := m.ledger.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	snap.State = m.state
	snap.OutboundQueued = m.outbound.Len()
	snap.OutboundEvicted = m.outbound.Evictions()
	return snap
}

// OnStateChange registers an observer. Observers run on a single notifier
// goroutine in transition order and must not block for long.
func (m *Manager) OnStateChange(fn func(StateChange)) (cancel func()) {
	m.obsMu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// Close disconnects, waits for background goroutines and closes the
// Events channel. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.wg.Wait()
	m.changes.Close()
	<-m.notifyDone
	close(m.events)
	return nil
}

// transitionLocked records a state change and queues it for observers.
func (m *Manager) transitionLocked(to State, cause error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if to == StateConnected {
		m.lastErr = nil
	} else if cause != nil {
		m.lastErr = cause
	}

	change := StateChange{From: from, To: to, Err: cause, At: m.clock.Now()}
	m.changes.Push(change)

	attrs := []any{"from", from.String(), "to", to.String()}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.Debug("state change", attrs...)
}

func (m *Manager) notifyLoop() {
	defer close(m.notifyDone)
	for {
		change, ok := m.changes.Pop()
		if !ok {
			return
		}

		m.obsMu.Lock()
		ids := make([]uint64, 0, len(m.observers))
		for id := range m.observers {
			ids = append(ids, id)
		}
		fns := make([]func(StateChange), 0, len(ids))
		slices.Sort(ids)
		for _, id := range ids {
			fns = append(fns, m.observers[id])
		}
		m.obsMu.Unlock()

		for _, fn := range fns {
			m.notify(fn, change)
		}
	}
}

func (m *Manager) notify(fn func(StateChange), change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state observer panicked", "panic", r, "to", change.To.String())
		}
	}()
	fn(change)
}

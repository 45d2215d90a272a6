package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/gridpulse/internal/auth"
	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
	"github.com/rickgao/gridpulse/internal/realtime"
)

// probe is the payload broadcast by the scenarios.
type probe struct {
	Seq    int   `json:"seq"`
	SentAt int64 `json:"sentAt"` // unix nanoseconds
}

var probeKind = event.Kind[probe]{Name: "harness.probe"}

// credentialGrace is how long InvalidCredential watches for a retry.
const credentialGrace = 500 * time.Millisecond

// idle waits until no client is connected to the server so scenarios do
// not see each other's connections.
func (h *Harness) idle(ctx context.Context) error {
	return h.waitFor(ctx, func() bool { return h.server.ConnectionCount() == 0 }, "server to have no connections")
}

// connect opens c and waits until the server has registered want
// connections.
func (h *Harness) connect(ctx context.Context, c *realtime.Client, want int) error {
	if err := c.Connect(ctx, h.creds()); err != nil {
		return err
	}
	if err := h.waitFor(ctx, func() bool { return c.State() == connection.StateConnected }, "client connected"); err != nil {
		return err
	}
	return h.waitFor(ctx, func() bool { return h.server.ConnectionCount() >= want }, fmt.Sprintf("%d server connections", want))
}

// InjectLatency delays every inbound frame by latency and drops a share
// loss of them, then broadcasts events and checks that every delivered
// event was delayed by at least latency and that no event is unaccounted
// for.
func (h *Harness) InjectLatency(ctx context.Context, latency time.Duration, loss float64, events int) Result {
	rec := begin("inject-latency")
	rec.detail("latencyMs", latency.Milliseconds())
	rec.detail("loss", loss)
	rec.detail("events", events)

	if err := h.idle(ctx); err != nil {
		return rec.fail("%v", err)
	}

	fd := NewFaultDialer(nil, Faults{Latency: latency, Loss: loss, Seed: h.opts.Seed})
	c, err := h.newClient(func(cfg *realtime.Config) {
		cfg.Connection.ClientBufferSize = max(cfg.Connection.ClientBufferSize, events)
	}, realtime.WithDialer(fd.Dial))
	if err != nil {
		return rec.fail("create client: %v", err)
	}
	defer c.Close()

	var (
		mu       sync.Mutex
		received int
		minDelay time.Duration = -1
		maxDelay time.Duration
	)
	if _, err := dispatch.On(c.Dispatcher(), probeKind, func(p probe, _ event.Event) {
		delay := time.Since(time.Unix(0, p.SentAt))
		mu.Lock()
		defer mu.Unlock()
		received++
		if minDelay < 0 || delay < minDelay {
			minDelay = delay
		}
		maxDelay = max(maxDelay, delay)
	}); err != nil {
		return rec.fail("subscribe: %v", err)
	}

	if err := h.connect(ctx, c, 1); err != nil {
		return rec.fail("connect: %v", err)
	}

	for i := 0; i < events; i++ {
		if err := h.server.Broadcast(probeKind.Name, probe{Seq: i, SentAt: time.Now().UnixNano()}); err != nil {
			return rec.fail("broadcast %d: %v", i, err)
		}
	}

	accounted := func() bool { return fd.Delivered()+fd.Dropped() == uint64(events) }
	if err := h.waitFor(ctx, accounted, "every frame delivered or dropped"); err != nil {
		rec.detail("delivered", fd.Delivered())
		rec.detail("dropped", fd.Dropped())
		return rec.fail("%v", err)
	}
	delivered := int(fd.Delivered())
	if err := h.waitFor(ctx, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == delivered
	}, "consumer to see every delivered frame"); err != nil {
		return rec.fail("%v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	rec.detail("delivered", delivered)
	rec.detail("dropped", fd.Dropped())
	rec.detail("minDelayMs", minDelay.Milliseconds())
	rec.detail("maxDelayMs", maxDelay.Milliseconds())

	if delivered > 0 && minDelay < latency {
		return rec.fail("observed delay %v below injected latency %v", minDelay, latency)
	}
	if loss == 0 && delivered != events {
		return rec.fail("delivered %d of %d events without loss", delivered, events)
	}
	return rec.pass("%d delivered, %d dropped, delay %v..%v", delivered, fd.Dropped(), minDelay, maxDelay)
}

// ForcedDisconnect takes the server down for downtime, then severs the
// recovered connection on the client side, and checks that the client
// reconnects both times with its attempt counter reset.
func (h *Harness) ForcedDisconnect(ctx context.Context, downtime time.Duration) Result {
	rec := begin("forced-disconnect")
	rec.detail("downtimeMs", downtime.Milliseconds())

	if err := h.idle(ctx); err != nil {
		return rec.fail("%v", err)
	}

	fd := NewFaultDialer(nil, Faults{})
	c, err := h.newClient(nil, realtime.WithDialer(fd.Dial))
	if err != nil {
		return rec.fail("create client: %v", err)
	}
	defer c.Close()

	var (
		mu      sync.Mutex
		changes []connection.StateChange
	)
	cancel := c.OnStateChange(func(sc connection.StateChange) {
		mu.Lock()
		changes = append(changes, sc)
		mu.Unlock()
	})
	defer cancel()

	reconnectsSince := func(from int) int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for i := from; i < len(changes); i++ {
			if changes[i].From == connection.StateReconnecting && changes[i].To == connection.StateConnected {
				n++
			}
		}
		return n
	}
	mark := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(changes)
	}

	if err := h.connect(ctx, c, 1); err != nil {
		return rec.fail("connect: %v", err)
	}

	// Server outage.
	refused := h.server.Refused()
	start := mark()
	h.server.Pause()
	h.server.DropAll()
	select {
	case <-ctx.Done():
		h.server.Resume()
		return rec.fail("%v", ctx.Err())
	case <-time.After(downtime):
	}
	h.server.Resume()

	if err := h.waitFor(ctx, func() bool { return reconnectsSince(start) > 0 }, "reconnect after outage"); err != nil {
		return rec.fail("%v", err)
	}
	rec.detail("refusedDuringOutage", h.server.Refused()-refused)

	// Client-side cut.
	if err := h.waitFor(ctx, func() bool { return h.server.ConnectionCount() == 1 }, "server to register reconnect"); err != nil {
		return rec.fail("%v", err)
	}
	start = mark()
	if n := fd.Sever(); n != 1 {
		return rec.fail("severed %d clients, want 1", n)
	}
	if err := h.waitFor(ctx, func() bool { return reconnectsSince(start) > 0 }, "reconnect after sever"); err != nil {
		return rec.fail("%v", err)
	}

	st := c.Status()
	m := c.Metrics()
	rec.detail("stateChanges", mark())
	rec.detail("attempts", st.Attempts)
	rec.detail("uptimeMs", m.CumulativeConnected.Milliseconds())

	if st.Attempts != 0 {
		return rec.fail("attempt counter is %d after reconnect, want 0", st.Attempts)
	}
	if m.CumulativeConnected <= 0 {
		return rec.fail("cumulative connected time did not grow across disconnects")
	}

	// Events flow on the new session.
	if err := h.waitFor(ctx, func() bool { return h.server.ConnectionCount() == 1 }, "server to register second reconnect"); err != nil {
		return rec.fail("%v", err)
	}
	if err := h.server.Broadcast(probeKind.Name, probe{Seq: 1, SentAt: time.Now().UnixNano()}); err != nil {
		return rec.fail("broadcast: %v", err)
	}
	if err := h.waitFor(ctx, func() bool { return len(c.Store().All(probeKind.Name)) == 1 }, "event after reconnect"); err != nil {
		return rec.fail("%v", err)
	}
	return rec.pass("recovered from server outage and client-side cut")
}

// ParallelConnections opens n independent clients concurrently, checks
// that each one sends and receives, then disconnects them all cleanly.
func (h *Harness) ParallelConnections(ctx context.Context, n int) Result {
	rec := begin("parallel-connections")
	rec.detail("connections", n)

	if n < 1 {
		return rec.fail("connections must be >= 1, got %d", n)
	}
	if err := h.idle(ctx); err != nil {
		return rec.fail("%v", err)
	}
	commands := len(h.server.Commands())

	clients := make([]*realtime.Client, n)
	defer func() {
		for _, c := range clients {
			if c != nil {
				c.Close()
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := range clients {
		g.Go(func() error {
			c, err := h.newClient(nil)
			if err != nil {
				return fmt.Errorf("client %d: %w", i, err)
			}
			clients[i] = c
			if err := c.Connect(gctx, h.creds()); err != nil {
				return fmt.Errorf("client %d: %w", i, err)
			}
			if err := h.waitFor(gctx, func() bool { return c.State() == connection.StateConnected }, fmt.Sprintf("client %d connected", i)); err != nil {
				return err
			}
			return c.Send(event.RefreshDevice.Name, event.DeviceRefresh{DeviceID: fmt.Sprintf("harness-%d", i)})
		})
	}
	if err := g.Wait(); err != nil {
		return rec.fail("%v", err)
	}

	if err := h.waitFor(ctx, func() bool { return h.server.ConnectionCount() == n }, fmt.Sprintf("%d server connections", n)); err != nil {
		rec.detail("serverConnections", h.server.ConnectionCount())
		return rec.fail("%v", err)
	}
	if err := h.waitFor(ctx, func() bool { return len(h.server.Commands())-commands == n }, "a command from every client"); err != nil {
		return rec.fail("%v", err)
	}

	if err := h.server.Broadcast(probeKind.Name, probe{SentAt: time.Now().UnixNano()}); err != nil {
		return rec.fail("broadcast: %v", err)
	}
	for i, c := range clients {
		if err := h.waitFor(ctx, func() bool { return len(c.Store().All(probeKind.Name)) == 1 }, fmt.Sprintf("client %d to receive broadcast", i)); err != nil {
			return rec.fail("%v", err)
		}
	}

	for i, c := range clients {
		if err := c.Disconnect(); err != nil {
			return rec.fail("disconnect client %d: %v", i, err)
		}
		if st := c.State(); st != connection.StateDisconnected {
			return rec.fail("client %d is %s after disconnect", i, st)
		}
	}
	if err := h.idle(ctx); err != nil {
		rec.detail("serverConnections", h.server.ConnectionCount())
		return rec.fail("%v", err)
	}
	return rec.pass("%d clients connected, exchanged events and disconnected", n)
}

// InvalidCredential connects with token and expects an authentication
// failure with no reconnection scheduled. A credential rejected locally
// must not reach the server at all; one rejected by the server must not be
// retried during the grace period.
func (h *Harness) InvalidCredential(ctx context.Context, token string) Result {
	rec := begin("invalid-credential")

	c, err := h.newClient(nil)
	if err != nil {
		return rec.fail("create client: %v", err)
	}
	defer c.Close()

	handshakes, rejected := h.server.Handshakes(), h.server.Rejected()

	err = c.Connect(ctx, auth.Credentials{Token: token})
	rec.detail("error", fmt.Sprint(err))
	if !errs.IsAuth(err) {
		return rec.fail("connect returned %v, want an authentication error", err)
	}
	attempts := c.Status().Attempts
	dialed := h.server.Rejected() - rejected
	rec.detail("dialed", dialed)

	select {
	case <-ctx.Done():
		return rec.fail("%v", ctx.Err())
	case <-time.After(credentialGrace):
	}

	st := c.Status()
	rec.detail("state", st.State.String())
	rec.detail("attempts", st.Attempts)

	switch {
	case st.State != connection.StateDisconnected:
		return rec.fail("state is %s, want disconnected", st.State)
	case !st.NextAttemptAt.IsZero():
		return rec.fail("reconnection scheduled at %v", st.NextAttemptAt)
	case st.Attempts != attempts || h.server.Rejected()-rejected != dialed:
		return rec.fail("client retried after an authentication failure")
	case st.Attempts != dialed:
		return rec.fail("attempt counter is %d after %d dials", st.Attempts, dialed)
	case h.server.Handshakes() != handshakes:
		return rec.fail("client completed a handshake with an invalid credential")
	}
	return rec.pass("rejected without retry: %v", err)
}

// EventFlood broadcasts count events, at most perSecond per second (zero
// for no limit), to a client with one binding of each mode, and checks
// the store and every binding against what was sent.
func (h *Harness) EventFlood(ctx context.Context, count int, perSecond float64) Result {
	rec := begin("event-flood")
	rec.detail("events", count)
	rec.detail("ratePerSecond", perSecond)

	if count < 1 {
		return rec.fail("events must be >= 1, got %d", count)
	}
	if err := h.idle(ctx); err != nil {
		return rec.fail("%v", err)
	}

	c, err := h.newClient(func(cfg *realtime.Config) {
		cfg.Connection.ClientBufferSize = max(cfg.Connection.ClientBufferSize, count)
		cfg.Connection.EventBufferSize = max(cfg.Connection.EventBufferSize, count)
	})
	if err != nil {
		return rec.fail("create client: %v", err)
	}
	defer c.Close()

	d := c.Dispatcher()
	var (
		mu        sync.Mutex
		direct    int
		throttled int
		lastThr   = -1
		batches   int
		batched   int
	)
	_, err = dispatch.On(d, probeKind, func(probe, event.Event) {
		mu.Lock()
		direct++
		mu.Unlock()
	})
	if err == nil {
		_, err = dispatch.Throttle(d, probeKind, 20*time.Millisecond, func(p probe, _ event.Event) {
			mu.Lock()
			throttled++
			lastThr = p.Seq
			mu.Unlock()
		})
	}
	if err == nil {
		_, err = dispatch.Aggregate(d, probeKind, 20*time.Millisecond, func(batch []probe) int { return len(batch) }, func(n int) {
			mu.Lock()
			batches++
			batched += n
			mu.Unlock()
		})
	}
	var latest *dispatch.Latest[probe]
	if err == nil {
		latest, _, err = dispatch.LatestOf(d, probeKind, time.Minute)
	}
	if err != nil {
		return rec.fail("subscribe: %v", err)
	}
	if got := c.ListenerStats().ByKind[probeKind.Name]; got != 4 {
		return rec.fail("listener count is %d, want 4", got)
	}

	if err := h.connect(ctx, c, 1); err != nil {
		return rec.fail("connect: %v", err)
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return rec.fail("rate limiter: %v", err)
		}
		if err := h.server.Broadcast(probeKind.Name, probe{Seq: i, SentAt: time.Now().UnixNano()}); err != nil {
			return rec.fail("broadcast %d: %v", i, err)
		}
	}
	sendTime := time.Since(start)

	settled := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return direct == count && batched == count && lastThr == count-1
	}
	if err := h.waitFor(ctx, settled, "every binding to settle"); err != nil {
		mu.Lock()
		rec.detail("direct", direct)
		rec.detail("aggregated", batched)
		rec.detail("lastThrottled", lastThr)
		mu.Unlock()
		rec.detail("dropped", c.Metrics().EventsDropped)
		return rec.fail("%v", err)
	}

	mu.Lock()
	rec.detail("direct", direct)
	rec.detail("throttleDeliveries", throttled)
	rec.detail("aggregateWindows", batches)
	mu.Unlock()
	rec.detail("sendMs", sendTime.Milliseconds())

	snap := latest.Get()
	if !snap.OK || snap.Err != nil || snap.Value.Seq != count-1 {
		return rec.fail("latest value is %+v (err %v), want seq %d", snap.Value, snap.Err, count-1)
	}

	capacity := c.Store().Capacity(probeKind.Name)
	stored := c.Store().All(probeKind.Name)
	want := min(count, capacity)
	rec.detail("stored", len(stored))
	if len(stored) != want {
		return rec.fail("store holds %d events, want %d", len(stored), want)
	}
	first, err := probeKind.Decode(stored[0])
	if err != nil {
		return rec.fail("decode oldest stored event: %v", err)
	}
	if first.Seq != count-want {
		return rec.fail("oldest stored event has seq %d, want %d", first.Seq, count-want)
	}
	ks := c.StoreStats().Kinds[probeKind.Name]
	rec.detail("evictions", ks.Evictions)
	if ks.Evictions != uint64(count-want) {
		return rec.fail("store evicted %d events, want %d", ks.Evictions, count-want)
	}

	mu.Lock()
	defer mu.Unlock()
	if throttled > count {
		return rec.fail("throttle delivered %d times for %d events", throttled, count)
	}
	return rec.pass("%d events in %v, %d throttled deliveries, %d aggregate windows", count, sendTime, throttled, batches)
}

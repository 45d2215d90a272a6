package harness

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/errs"
)

// ErrSevered is the read error reported by a client cut by Sever.
var ErrSevered = errors.New("connection severed by fault injector")

// Faults describes the inbound impairments applied by a FaultDialer.
type Faults struct {
	// Latency delays every inbound frame by this much after it arrives.
	Latency time.Duration
	// Loss is the probability in [0, 1] that an inbound frame is dropped.
	Loss float64
	// Seed seeds the loss draws.
	Seed uint64
}

// FaultDialer wraps a connection.Dialer and impairs the clients it makes.
type FaultDialer struct {
	next connection.Dialer

	mu     sync.Mutex
	faults Faults
	rng    *rand.Rand
	active map[*faultClient]struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewFaultDialer wraps next. A nil next uses connection.NewClient.
func NewFaultDialer(next connection.Dialer, f Faults) *FaultDialer {
	if next == nil {
		next = connection.NewClient
	}
	return &FaultDialer{
		next:   next,
		faults: f,
		rng:    rand.New(rand.NewPCG(f.Seed, f.Seed^0x9e3779b97f4a7c15)),
		active: make(map[*faultClient]struct{}),
	}
}

// SetFaults changes the impairments for frames arriving from now on.
func (d *FaultDialer) SetFaults(f Faults) {
	d.mu.Lock()
	d.faults.Latency = f.Latency
	d.faults.Loss = f.Loss
	d.mu.Unlock()
}

// Dial implements connection.Dialer.
func (d *FaultDialer) Dial(cfg connection.ClientConfig, logger *slog.Logger) connection.Client {
	fc := &faultClient{
		dialer:   d,
		inner:    d.next(cfg, logger),
		messages: make(chan connection.TimestampedMessage, max(cfg.BufferSize, 1)),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	d.mu.Lock()
	d.active[fc] = struct{}{}
	d.mu.Unlock()
	return fc
}

// Sever cuts every active client as a network failure would. It returns
// the number of clients cut.
func (d *FaultDialer) Sever() int {
	d.mu.Lock()
	clients := make([]*faultClient, 0, len(d.active))
	for fc := range d.active {
		clients = append(clients, fc)
	}
	d.mu.Unlock()

	for _, fc := range clients {
		fc.sever()
	}
	return len(clients)
}

// Dropped returns the number of inbound frames dropped so far.
func (d *FaultDialer) Dropped() uint64 { return d.dropped.Load() }

// Delivered returns the number of inbound frames passed through so far.
func (d *FaultDialer) Delivered() uint64 { return d.delivered.Load() }

// impair decides the fate of one frame.
func (d *FaultDialer) impair() (drop bool, latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.Loss > 0 && d.rng.Float64() < d.faults.Loss {
		return true, 0
	}
	return false, d.faults.Latency
}

func (d *FaultDialer) forget(fc *faultClient) {
	d.mu.Lock()
	delete(d.active, fc)
	d.mu.Unlock()
}

// faultClient is a connection.Client whose inbound stream passes through
// the dialer's impairments.
type faultClient struct {
	dialer *FaultDialer
	inner  connection.Client

	messages chan connection.TimestampedMessage
	errors   chan error
	done     chan struct{}
	once     sync.Once
}

func (c *faultClient) Connect(ctx context.Context) error {
	if err := c.inner.Connect(ctx); err != nil {
		c.dialer.forget(c)
		return err
	}
	go c.pump()
	return nil
}

func (c *faultClient) pump() {
	in := c.inner.Messages()
	for {
		select {
		case <-c.done:
			return

		case err := <-c.inner.Errors():
			c.report(err)
			return

		case msg := <-in:
			drop, latency := c.dialer.impair()
			if drop {
				c.dialer.dropped.Add(1)
				continue
			}
			if wait := time.Until(msg.ReceivedAt.Add(latency)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-c.done:
					timer.Stop()
					return
				}
			}
			select {
			case c.messages <- msg:
				c.dialer.delivered.Add(1)
			case <-c.done:
				return
			}
		}
	}
}

func (c *faultClient) report(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

func (c *faultClient) stop() {
	c.once.Do(func() {
		close(c.done)
		c.dialer.forget(c)
	})
}

func (c *faultClient) sever() {
	c.report(errs.Transient("read", ErrSevered))
	c.stop()
	c.inner.Close()
}

func (c *faultClient) Close() error {
	c.stop()
	return c.inner.Close()
}

func (c *faultClient) Send(data []byte) error                         { return c.inner.Send(data) }
func (c *faultClient) Ping() error                                    { return c.inner.Ping() }
func (c *faultClient) Messages() <-chan connection.TimestampedMessage { return c.messages }
func (c *faultClient) Errors() <-chan error                           { return c.errors }
func (c *faultClient) IsConnected() bool                              { return c.inner.IsConnected() }
func (c *faultClient) LastAck() time.Time                             { return c.inner.LastAck() }
func (c *faultClient) Latency() (time.Duration, bool)                 { return c.inner.Latency() }

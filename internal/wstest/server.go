// Package wstest provides an in-process websocket event server for tests
// and the adverse-condition harness.
package wstest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/gridpulse/internal/event"
)

// Options configures a Server.
type Options struct {
	// AcceptTokens restricts the bearer tokens accepted. Empty accepts any
	// token not listed in RejectTokens.
	AcceptTokens []string
	RejectTokens []string

	// RequireToken rejects upgrades without an Authorization header.
	RequireToken bool

	Logger *slog.Logger
}

// Server is an httptest websocket server speaking the envelope protocol.
type Server struct {
	opts     Options
	logger   *slog.Logger
	http     *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      map[string]*serverConn
	commands   []event.Envelope
	handshakes int
	rejected   int
	refused    int
	pongs      bool
	paused     bool
}

type serverConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New starts a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: logger.With("component", "wstest"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*serverConn),
		pongs: true,
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.http.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	paused := s.paused
	if paused {
		s.refused++
	}
	s.mu.Unlock()
	if paused {
		http.Error(w, "server paused", http.StatusServiceUnavailable)
		return
	}

	token, ok := bearer(r.Header.Get("Authorization"))
	if reason := s.authorize(token, ok); reason != "" {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		s.logger.Debug("rejecting upgrade", "reason", reason)
		http.Error(w, reason, http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	sc := &serverConn{id: uuid.NewString(), conn: conn}
	conn.SetPingHandler(func(data string) error {
		s.mu.Lock()
		pongs := s.pongs
		s.mu.Unlock()
		if !pongs {
			return nil
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	s.mu.Lock()
	s.conns[sc.id] = sc
	s.handshakes++
	s.mu.Unlock()
	s.logger.Debug("client connected", "conn_id", sc.id)

	s.readLoop(sc)
}

func (s *Server) authorize(token string, present bool) string {
	if !present {
		if s.opts.RequireToken {
			return "missing bearer token"
		}
		return ""
	}
	if slices.Contains(s.opts.RejectTokens, token) {
		return "invalid token"
	}
	if len(s.opts.AcceptTokens) > 0 && !slices.Contains(s.opts.AcceptTokens, token) {
		return "unknown token"
	}
	return ""
}

func bearer(h string) (string, bool) {
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) readLoop(sc *serverConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc.id)
		s.mu.Unlock()
		sc.conn.Close()
		s.logger.Debug("client gone", "conn_id", sc.id)
	}()

	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := event.DecodeEnvelope(data)
		if err != nil {
			s.logger.Debug("ignoring malformed command", "conn_id", sc.id, "error", err)
			continue
		}
		s.mu.Lock()
		s.commands = append(s.commands, env)
		s.mu.Unlock()
	}
}

func (s *Server) snapshot() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		out = append(out, sc)
	}
	return out
}

// Broadcast encodes an envelope and writes it to every connection.
func (s *Server) Broadcast(kind string, payload any) error {
	data, err := event.Encode(kind, payload)
	if err != nil {
		return err
	}
	return s.BroadcastRaw(data)
}

// BroadcastRaw writes data as a text frame to every connection. It
// returns the first write error.
func (s *Server) BroadcastRaw(data []byte) error {
	var first error
	for _, sc := range s.snapshot() {
		sc.writeMu.Lock()
		err := sc.conn.WriteMessage(websocket.TextMessage, data)
		sc.writeMu.Unlock()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Burst broadcasts n events of kind. payload builds the i-th payload.
func (s *Server) Burst(kind string, n int, payload func(i int) any) error {
	for i := 0; i < n; i++ {
		if err := s.Broadcast(kind, payload(i)); err != nil {
			return err
		}
	}
	return nil
}

// DropAll closes every connection without a close frame, as a network
// failure would. It returns the number of connections dropped.
func (s *Server) DropAll() int {
	conns := s.snapshot()
	for _, sc := range conns {
		sc.conn.NetConn().Close()
	}
	return len(conns)
}

// SetPongs controls whether client pings are answered. With pongs off and
// no broadcasts the server looks like a silent peer.
func (s *Server) SetPongs(on bool) {
	s.mu.Lock()
	s.pongs = on
	s.mu.Unlock()
}

// Pause makes the server answer upgrades with 503 until Resume. Open
// connections are not affected; combine with DropAll for an outage.
func (s *Server) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume accepts upgrades again.
func (s *Server) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Commands returns the envelopes received from clients, in order.
func (s *Server) Commands() []event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Handshakes returns the number of successful upgrades so far.
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Rejected returns the number of upgrades refused with 401.
func (s *Server) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Refused returns the number of upgrades answered with 503 while paused.
func (s *Server) Refused() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refused
}

// WaitForConnections blocks until at least n connections are open.
func (s *Server) WaitForConnections(ctx context.Context, n int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.ConnectionCount() >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/gridpulse/internal/errs"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// drain keeps a server-side connection open, answering pings, until the
// client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}
	if client.LastAck().IsZero() {
		t.Error("expected LastAck to be set on connect")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClient_SendsHeaders(t *testing.T) {
	var (
		mu        sync.Mutex
		authz, ua string
	)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authz = r.Header.Get("Authorization")
		ua = r.Header.Get("User-Agent")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.Header = http.Header{"Authorization": {"Bearer abc"}}
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	if authz != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", authz, "Bearer abc")
	}
	if !strings.HasPrefix(ua, "gridpulse/") {
		t.Errorf("User-Agent = %q, want gridpulse/ prefix", ua)
	}
}

func TestClient_Send(t *testing.T) {
	received := make(chan []byte, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"kind":"device.refresh","payload":{"deviceId":"d1"}}`)
	if err := client.Send(testMsg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(testMsg) {
			t.Errorf("received %q, want %q", got, testMsg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)

	if err := client.Send([]byte("x")); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := client.Ping(); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Ping() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ReceiveMessages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"notification","payload":{"id":"1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"notification","payload":{"id":"2"}}`))
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	before := time.Now()
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for i := 1; i <= 2; i++ {
		select {
		case msg := <-client.Messages():
			if !strings.Contains(string(msg.Data), `"id":"`) {
				t.Errorf("unexpected message %s", msg.Data)
			}
			if msg.ReceivedAt.Before(before) {
				t.Errorf("ReceivedAt %v before connect", msg.ReceivedAt)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestClient_PingMeasuresLatency(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if _, ok := client.Latency(); ok {
		t.Error("Latency available before any ping")
	}
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := client.Latency(); ok {
			if d < 0 || d > 2*time.Second {
				t.Errorf("Latency = %v, out of range", d)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no pong received")
}

func TestClient_ServerCloseReportsError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return immediately; the deferred Close drops the connection.
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if !errs.IsTransient(err) {
			t.Errorf("error = %v, want transient", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for read error")
	}
}

func TestClient_AuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	err := client.Connect(context.Background())

	var authErr *errs.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Connect() error = %v, want *errs.AuthError", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", authErr.StatusCode)
	}
	if errs.IsTransient(err) {
		t.Error("auth rejection must not be transient")
	}
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	err := client.Connect(context.Background())
	if !errs.IsTransient(err) {
		t.Errorf("Connect() error = %v, want transient", err)
	}
}

func TestClient_HandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testClientConfig(wsURL(server))
	cfg.HandshakeTimeout = 100 * time.Millisecond
	client := NewClient(cfg, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, errs.ErrHandshakeTimeout) {
		t.Fatalf("Connect() error = %v, want ErrHandshakeTimeout", err)
	}
	if !errs.IsTransient(err) {
		t.Error("handshake timeout should be transient")
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	client := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)
	client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, errs.ErrClosed) {
		t.Errorf("Connect() error = %v, want ErrClosed", err)
	}
}

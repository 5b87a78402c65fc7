package manager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/wsrelay/frame"
	"github.com/coregx/wsrelay/message"
	"github.com/coregx/wsrelay/session"
)

// dialWebSocket performs a real RFC 6455 opening handshake over a raw TCP
// connection to addr, the way a from-scratch client (not net/http) would.
func dialWebSocket(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	req := "GET /ws HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake request failed: %v", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read handshake response failed: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake failed: status %d", resp.StatusCode)
	}
	return conn
}

func writeClientTextFrame(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	encoded, err := frame.Encode(&frame.Frame{
		Fin: true, Opcode: frame.OpText, Masked: true, Mask: frame.NewMaskKey(), Payload: []byte(payload),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readServerTextFrame(t *testing.T, conn net.Conn, timeout time.Duration) *frame.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		f, _, err := frame.Decode(buf, 0, frame.ClientSide)
		if err == nil {
			return f
		}
		if !errors.Is(err, frame.ErrNeedMoreData) {
			t.Fatalf("Decode failed: %v", err)
		}
		n, rerr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			t.Fatalf("read failed: %v", rerr)
		}
	}
}

func newTestManager(handlers Handlers, maxConn uint64) *Manager {
	cfg := Config{
		MaxConnections: maxConn,
		Session:        session.DefaultConfig(),
	}
	cfg.Session.PingInterval = 0 // heartbeat noise would race the assertions below
	return New(cfg, handlers, zerolog.Nop())
}

// TestManager_EchoEndToEnd drives a real loopback listener: a raw TCP client
// performs the opening handshake, sends a text frame, and expects the
// manager's OnMessage handler (wired to Send) to echo it back.
func TestManager_EchoEndToEnd(t *testing.T) {
	var mgr *Manager
	mgr = newTestManager(Handlers{
		OnMessage: func(id session.ID, msg message.Message) {
			mgr.Send(id, msg.Kind, msg.Payload)
		},
	}, 0)

	srv := httptest.NewServer(mgr)
	defer srv.Close()

	addr := srv.Listener.Addr().String()
	conn := dialWebSocket(t, addr)
	defer func() { _ = conn.Close() }()

	writeClientTextFrame(t, conn, "hello")

	f := readServerTextFrame(t, conn, time.Second)
	if f.Opcode != frame.OpText || string(f.Payload) != "hello" {
		t.Errorf("unexpected echo frame: %+v", f)
	}
}

// TestManager_CapacityLimit verifies connections beyond MaxConnections are
// rejected with 503 before the handshake is attempted.
func TestManager_CapacityLimit(t *testing.T) {
	block := make(chan struct{})
	mgr := newTestManager(Handlers{
		OnConnect: func(id session.ID) { <-block },
	}, 1)
	defer close(block)

	srv := httptest.NewServer(mgr)
	defer srv.Close()
	addr := srv.Listener.Addr().String()

	first := dialWebSocket(t, addr)
	defer func() { _ = first.Close() }()

	// Wait for the manager to register the first session before dialing
	// the second, since capacity is checked against the live session count.
	deadline := time.Now().Add(time.Second)
	for mgr.ClientCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	req := fmt.Sprintf("GET /ws HTTP/1.1\r\nHost: %s\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n", addr)
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

// TestManager_Broadcast verifies Broadcast fans a single encoded frame out
// to every connected session.
func TestManager_Broadcast(t *testing.T) {
	var connected sync.WaitGroup
	connected.Add(2)
	mgr := newTestManager(Handlers{
		OnConnect: func(id session.ID) { connected.Done() },
	}, 0)

	srv := httptest.NewServer(mgr)
	defer srv.Close()
	addr := srv.Listener.Addr().String()

	a := dialWebSocket(t, addr)
	defer func() { _ = a.Close() }()
	b := dialWebSocket(t, addr)
	defer func() { _ = b.Close() }()

	connected.Wait()

	delivered := mgr.Broadcast(message.Text, []byte("announcement"))
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}

	for _, conn := range []net.Conn{a, b} {
		f := readServerTextFrame(t, conn, time.Second)
		if string(f.Payload) != "announcement" {
			t.Errorf("unexpected broadcast payload: %q", f.Payload)
		}
	}
}

// TestManager_DisconnectAndStats verifies OnDisconnect fires and Stats
// reflects message/byte counters after a round trip.
func TestManager_DisconnectAndStats(t *testing.T) {
	disconnected := make(chan message.CloseCode, 1)
	var mgr *Manager
	mgr = newTestManager(Handlers{
		OnMessage: func(id session.ID, msg message.Message) {
			mgr.Send(id, msg.Kind, msg.Payload)
		},
		OnDisconnect: func(id session.ID, code message.CloseCode, reason string) {
			disconnected <- code
		},
	}, 0)

	srv := httptest.NewServer(mgr)
	defer srv.Close()
	addr := srv.Listener.Addr().String()

	conn := dialWebSocket(t, addr)
	writeClientTextFrame(t, conn, "ping-me")
	readServerTextFrame(t, conn, time.Second)
	_ = conn.Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnDisconnect")
	}

	stats := mgr.Stats()
	if stats.MessagesReceived == 0 || stats.MessagesSent == 0 {
		t.Errorf("expected non-zero message counters, got %+v", stats)
	}
}

// TestManager_Shutdown verifies Shutdown closes open sessions and returns
// once their goroutines have finished.
func TestManager_Shutdown(t *testing.T) {
	mgr := newTestManager(Handlers{}, 0)
	// The client never answers the close frame, so each session ends only
	// when CloseTimeout forces it shut; keep that well inside ctx below.
	mgr.cfg.Session.CloseTimeout = 100 * time.Millisecond
	srv := httptest.NewServer(mgr)
	defer srv.Close()
	addr := srv.Listener.Addr().String()

	conn := dialWebSocket(t, addr)
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(time.Second)
	for mgr.ClientCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

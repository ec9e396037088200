//go:build linux

package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

// Hub tests exercise fanout and slow-client eviction without a real
// websocket server. Clients are built with a nil conn; the paths under
// test never write to it (removeClient and closeAllClients guard nil).

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		log:        quietLogger(),
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, "client not registered in time")
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(quietLogger(), HubConfig{SendBuf: 4, BroadcastBuf: 8})

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	msg := []byte(`{"type":"turn","data":{"direction":"cw"}}`)

	// Feed the hub loop directly; BroadcastBytes is lossy by design.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for hub to stop")
	}
}

func TestHubEvictsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(quietLogger(), HubConfig{SendBuf: 1, BroadcastBuf: 8})

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	// Pre-fill the slow client's buffer so the next broadcast overflows it.
	slow.send <- []byte(`"stuck"`)

	msg := []byte(`{"type":"button","data":{"pressed":true}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for fast client")
	}

	// The slow client is dropped and its send channel closed.
	select {
	case <-slow.send: // drain the pre-filled frame
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	hub.mu.Lock()
	_, stillThere := hub.clients[slow]
	hub.mu.Unlock()
	if stillThere {
		t.Fatal("slow client still registered after eviction")
	}
}

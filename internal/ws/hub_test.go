package ws

import (
	"encoding/json"
	"testing"
)

func newTestSession(id string) *Session {
	return &Session{
		ID:     id,
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func recvEvent(t *testing.T, s *Session) string {
	t.Helper()
	select {
	case payload := <-s.out:
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return env.Event
	default:
		t.Fatalf("no frame queued for session %s", s.ID)
		return ""
	}
}

func TestHubEmitWallet(t *testing.T) {
	h := NewHub()
	s := newTestSession("s1")
	h.Bind(s, "0xAAA")

	h.EmitWallet("0xAAA", "game_data", map[string]string{"roomId": "r1"})
	if ev := recvEvent(t, s); ev != "game_data" {
		t.Fatalf("event = %q", ev)
	}

	// Unknown wallet is a no-op.
	h.EmitWallet("0xZZZ", "game_data", nil)
}

func TestHubEmitRoomOnlyMembers(t *testing.T) {
	h := NewHub()
	a := newTestSession("a")
	b := newTestSession("b")
	c := newTestSession("c")
	h.Bind(a, "0xAAA")
	h.Bind(b, "0xBBB")
	h.Bind(c, "0xCCC")
	h.JoinRoom("0xAAA", "r1")
	h.JoinRoom("0xBBB", "r1")

	h.EmitRoom("r1", "move", nil)
	recvEvent(t, a)
	recvEvent(t, b)
	select {
	case <-c.out:
		t.Fatalf("non-member received a room frame")
	default:
	}
}

func TestHubEmitAll(t *testing.T) {
	h := NewHub()
	a := newTestSession("a")
	b := newTestSession("b")
	h.Bind(a, "0xAAA")
	h.Bind(b, "0xBBB")

	h.EmitAll("challenge_created", nil)
	recvEvent(t, a)
	recvEvent(t, b)
}

func TestHubReconnectReplacesSession(t *testing.T) {
	h := NewHub()
	old := newTestSession("old")
	h.Bind(old, "0xAAA")
	fresh := newTestSession("fresh")
	h.Bind(fresh, "0xAAA")

	select {
	case <-old.closed:
	default:
		t.Fatalf("replaced session not closed")
	}

	h.EmitWallet("0xAAA", "ping", nil)
	if ev := recvEvent(t, fresh); ev != "ping" {
		t.Fatalf("event = %q", ev)
	}
}

func TestHubUnbindStopsDelivery(t *testing.T) {
	h := NewHub()
	s := newTestSession("s1")
	h.Bind(s, "0xAAA")
	h.JoinRoom("0xAAA", "r1")

	h.Unbind(s)
	h.EmitWallet("0xAAA", "ping", nil)
	h.EmitRoom("r1", "ping", nil)
	select {
	case <-s.out:
		t.Fatalf("unbound session still receives frames")
	default:
	}
}

func TestHubUnbindKeepsNewerSession(t *testing.T) {
	h := NewHub()
	old := newTestSession("old")
	h.Bind(old, "0xAAA")
	fresh := newTestSession("fresh")
	h.Bind(fresh, "0xAAA")

	// The stale session disconnecting must not tear down the new binding.
	h.Unbind(old)
	h.EmitWallet("0xAAA", "ping", nil)
	if ev := recvEvent(t, fresh); ev != "ping" {
		t.Fatalf("event = %q", ev)
	}
}

func TestUnbindReportsSupersededSession(t *testing.T) {
	h := NewHub()
	old := newTestSession("old")
	h.Bind(old, "0xAAA")
	fresh := newTestSession("fresh")
	h.Bind(fresh, "0xAAA")

	if h.Unbind(old) {
		t.Fatalf("superseded session reported as current binding")
	}
	if !h.Unbind(fresh) {
		t.Fatalf("current session not reported as current binding")
	}
	if h.Unbind(fresh) {
		t.Fatalf("second unbind of the same session reported as current")
	}
}

func TestBindIgnoresEmptyWallet(t *testing.T) {
	h := NewHub()
	s := newTestSession("s1")
	h.Bind(s, "  ")
	if s.Wallet() != "" {
		t.Fatalf("blank wallet bound: %q", s.Wallet())
	}
	if h.Unbind(s) {
		t.Fatalf("unbound session reported as current binding")
	}
}

func TestSlowClientDropped(t *testing.T) {
	s := newTestSession("slow")
	for i := 0; i < cap(s.out); i++ {
		if !s.send([]byte("x")) {
			t.Fatalf("send %d failed with buffer space left", i)
		}
	}
	if s.send([]byte("overflow")) {
		t.Fatalf("send succeeded past a full buffer")
	}
	select {
	case <-s.closed:
	default:
		t.Fatalf("slow session not closed")
	}
}

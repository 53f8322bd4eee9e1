package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v1 "handoff/contracts/support/v1"
	"handoff/internal/broker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startBroker runs a full broker with both transports mounted.
// wsEnabled=false leaves /ws unmounted to force the long-poll fallback.
func startBroker(t *testing.T, wsEnabled bool) *httptest.Server {
	t.Helper()
	t.Setenv("HANDOFF_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("HANDOFF_LP_WAIT", "500ms")

	log := testLogger()
	gw := broker.NewGateway(log, broker.NewHub(log), broker.NewInMemoryStore(), nil, broker.CannedResponder{})
	lp := broker.NewLongPollGateway(log, gw)
	t.Cleanup(lp.Stop)

	mux := http.NewServeMux()
	if wsEnabled {
		mux.Handle("/ws", gw)
	}
	mux.Handle("/lp", lp)
	mux.Handle("/lp/", lp)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func waitForFrame(t *testing.T, ch <-chan v1.Frame, what string) v1.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return v1.Frame{}
	}
}

func TestDialWebSocketRoundTrip(t *testing.T) {
	ts := startBroker(t, true)

	conn, err := Dial(context.Background(), Config{URL: ts.URL, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if conn.SessionID() == "" {
		t.Fatalf("empty session id")
	}
	if conn.Agent() {
		t.Fatalf("anonymous dial granted agent role")
	}

	got := make(chan v1.Frame, 8)
	conn.Subscribe(v1.RoomTopic("room-t"), func(f v1.Frame) { got <- f })

	body, _ := json.Marshal(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleUser, Text: "hello"})
	conn.Send(v1.RoomSendDest("room-t"), body)

	f := waitForFrame(t, got, "bot reply")
	p := v1.ParseRoomPayload(f.Body)
	if p.Kind != v1.RoomPayloadChat || p.Chat.Role != v1.RoleBot {
		t.Fatalf("unexpected room frame: %+v", p)
	}
}

func TestDialFallsBackToLongPoll(t *testing.T) {
	ts := startBroker(t, false)

	conn, err := Dial(context.Background(), Config{URL: ts.URL, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Dial with fallback: %v", err)
	}
	defer conn.Close()

	got := make(chan v1.Frame, 8)
	conn.Subscribe(v1.RoomTopic("room-lp"), func(f v1.Frame) { got <- f })

	body, _ := json.Marshal(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleUser, Text: "hi from long poll"})
	conn.Send(v1.RoomSendDest("room-lp"), body)

	f := waitForFrame(t, got, "bot reply over long-poll")
	p := v1.ParseRoomPayload(f.Body)
	if p.Kind != v1.RoomPayloadChat || p.Chat.Role != v1.RoleBot {
		t.Fatalf("unexpected room frame: %+v", p)
	}
}

func TestDialDisableFallback(t *testing.T) {
	ts := startBroker(t, false)

	if _, err := Dial(context.Background(), Config{URL: ts.URL, DisableFallback: true, Logger: testLogger()}); err == nil {
		t.Fatalf("Dial without /ws and without fallback should fail")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ts := startBroker(t, true)

	conn, err := Dial(context.Background(), Config{URL: ts.URL, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got := make(chan v1.Frame, 8)
	sub := conn.Subscribe(v1.RoomTopic("room-u"), func(f v1.Frame) { got <- f })

	sub.Unsubscribe()
	// Idempotent.
	sub.Unsubscribe()

	// A message published after unsubscribe must not reach the old handler.
	time.Sleep(100 * time.Millisecond)
	body, _ := json.Marshal(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleUser, Text: "anyone there?"})
	conn.Send(v1.RoomSendDest("room-u"), body)

	select {
	case f := <-got:
		t.Fatalf("handler fired after unsubscribe: %+v", f)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestToHTTPBase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ws://localhost:8080", "http://localhost:8080"},
		{"wss://broker.example.com", "https://broker.example.com"},
		{"http://localhost:8080/", "http://localhost:8080"},
		{"  ws://x/ ", "http://x"},
	}
	for _, tc := range cases {
		if got := toHTTPBase(tc.in); got != tc.want {
			t.Fatalf("toHTTPBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

package visitor

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
	"handoff/internal/chat"
	"handoff/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBroker(t *testing.T) (*broker.Gateway, *httptest.Server) {
	t.Helper()
	t.Setenv("HANDOFF_WS_ORIGIN_REQUIRED", "false")

	log := testLogger()
	gw := broker.NewGateway(log, broker.NewHub(log), broker.NewInMemoryStore(), nil, broker.CannedResponder{})

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return gw, ts
}

func waitForTranscript(t *testing.T, c *Controller, match func([]chat.Entry) bool, what string) []chat.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries := c.Transcript()
		if match(entries) {
			return entries
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; transcript: %+v", what, c.Transcript())
	return nil
}

func hasEntry(entries []chat.Entry, role v1.Role, typ v1.MessageType) bool {
	for _, e := range entries {
		if e.Role == role && e.Type == typ {
			return true
		}
	}
	return false
}

func TestControllerMintsRoomPerSession(t *testing.T) {
	a := New(testLogger(), session.Context{})
	b := New(testLogger(), session.Context{})

	if a.RoomID() == "" {
		t.Fatalf("empty room id")
	}
	if a.RoomID() == b.RoomID() {
		t.Fatalf("two controllers share a room id")
	}
	if a.State() != StateInit {
		t.Fatalf("fresh controller state = %v", a.State())
	}
}

func TestControllerGuardedBeforeConnect(t *testing.T) {
	c := New(testLogger(), session.Context{UserName: "nadia"})

	// Neither call may publish or echo without a connection.
	c.SendText("hello?")
	c.RequestHandoff()

	if n := len(c.Transcript()); n != 0 {
		t.Fatalf("disconnected controller produced %d transcript entries", n)
	}
}

func TestControllerSendTextIgnoresBlank(t *testing.T) {
	_, ts := startBroker(t)

	c := New(testLogger(), session.Context{BrokerURL: ts.URL})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.SendText("   ")
	c.SendText("\n\t")

	time.Sleep(100 * time.Millisecond)
	if n := len(c.Transcript()); n != 0 {
		t.Fatalf("blank sends produced %d transcript entries", n)
	}
}

func TestControllerConnectIsIdempotent(t *testing.T) {
	_, ts := startBroker(t)

	c := New(testLogger(), session.Context{BrokerURL: ts.URL})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	room := c.RoomID()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if c.RoomID() != room {
		t.Fatalf("room id changed across Connect calls")
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}
}

func TestControllerChatWithBot(t *testing.T) {
	_, ts := startBroker(t)

	c := New(testLogger(), session.Context{BrokerURL: ts.URL, UserName: "nadia"})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.SendText("hello")

	entries := waitForTranscript(t, c, func(es []chat.Entry) bool {
		return hasEntry(es, v1.RoleBot, v1.MessageText)
	}, "bot reply")

	// Optimistic echo first, marked local.
	if entries[0].Role != v1.RoleUser || !entries[0].Local || entries[0].Text != "hello" {
		t.Fatalf("first entry = %+v, want local USER echo", entries[0])
	}
}

func TestControllerHandoffLifecycleMarkers(t *testing.T) {
	gw, ts := startBroker(t)

	c := New(testLogger(), session.Context{BrokerURL: ts.URL, UserName: "nadia"})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.RequestHandoff()

	// Local marker plus the broker's broadcast marker.
	waitForTranscript(t, c, func(es []chat.Entry) bool {
		n := 0
		for _, e := range es {
			if e.Type == v1.MessageHandoffRequest {
				n++
			}
		}
		return n >= 2
	}, "hand-off request markers")

	if gw.Coordinator().WaitingCount() != 1 {
		t.Fatalf("WaitingCount = %d, want 1", gw.Coordinator().WaitingCount())
	}

	// Repeated clicks do not multiply the waiting entry.
	c.RequestHandoff()
	time.Sleep(100 * time.Millisecond)
	if gw.Coordinator().WaitingCount() != 1 {
		t.Fatalf("WaitingCount after repeat = %d, want 1", gw.Coordinator().WaitingCount())
	}
}

func TestControllerRawPayloadRendersAsBot(t *testing.T) {
	c := New(testLogger(), session.Context{})

	c.onRoomFrame(v1.Frame{
		V:           v1.Version,
		Type:        v1.TypeMessage,
		Destination: v1.RoomTopic(c.RoomID()),
		Body:        []byte(`Anything else I can help with?`),
	})

	// A JSON string body is the wire form a bare-string payload actually
	// travels in; it must surface without the quotes.
	c.onRoomFrame(v1.Frame{
		V:           v1.Version,
		Type:        v1.TypeMessage,
		Destination: v1.RoomTopic(c.RoomID()),
		Body:        []byte(`"Was that everything?"`),
	})

	entries := c.Transcript()
	if len(entries) != 2 {
		t.Fatalf("transcript length = %d", len(entries))
	}
	if entries[0].Role != v1.RoleBot || entries[0].Text != "Anything else I can help with?" {
		t.Fatalf("raw payload entry = %+v", entries[0])
	}
	if entries[1].Role != v1.RoleBot || entries[1].Text != "Was that everything?" {
		t.Fatalf("json string payload entry = %+v", entries[1])
	}
}

func TestControllerRoomFrameDispatch(t *testing.T) {
	mustBody := func(v any) []byte {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}

	cases := []struct {
		name     string
		body     []byte
		wantRole v1.Role
		wantType v1.MessageType
	}{
		{"structured bot text", mustBody(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleBot, Text: "hi"}), v1.RoleBot, v1.MessageText},
		{"agent text", mustBody(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleAgent, Text: "hello"}), v1.RoleAgent, v1.MessageText},
		{"missing role defaults to bot", mustBody(v1.ChatBody{Type: v1.MessageText, Text: "who am i"}), v1.RoleBot, v1.MessageText},
		{"handoff requested marker", mustBody(v1.ChatBody{Type: v1.MessageHandoffRequest, Role: v1.RoleSys}), v1.RoleSys, v1.MessageHandoffRequest},
		{"handoff accepted marker", mustBody(v1.ChatBody{Type: v1.MessageHandoffAccepted, Role: v1.RoleSys}), v1.RoleSys, v1.MessageHandoffAccepted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(testLogger(), session.Context{})
			c.onRoomFrame(v1.Frame{V: v1.Version, Type: v1.TypeMessage, Body: tc.body})

			entries := c.Transcript()
			if len(entries) != 1 {
				t.Fatalf("transcript length = %d", len(entries))
			}
			if entries[0].Role != tc.wantRole || entries[0].Type != tc.wantType {
				t.Fatalf("entry = %+v, want role=%s type=%s", entries[0], tc.wantRole, tc.wantType)
			}
		})
	}

	// Empty structured text is dropped.
	c := New(testLogger(), session.Context{})
	c.onRoomFrame(v1.Frame{V: v1.Version, Type: v1.TypeMessage, Body: mustBody(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleBot})})
	if n := len(c.Transcript()); n != 0 {
		t.Fatalf("empty text produced %d entries", n)
	}
}

func TestControllerCloseEndsSession(t *testing.T) {
	_, ts := startBroker(t)

	c := New(testLogger(), session.Context{BrokerURL: ts.URL})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Close()
	if c.State() != StateDisconnected {
		t.Fatalf("state after Close = %v", c.State())
	}

	// Post-close operations are guarded no-ops.
	c.SendText("still there?")
	if n := len(c.Transcript()); n != 0 {
		t.Fatalf("post-close send produced %d entries", n)
	}
}

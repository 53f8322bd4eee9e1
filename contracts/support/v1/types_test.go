package v1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFrameValidate(t *testing.T) {
	body := json.RawMessage(`{"type":"TEXT","text":"hi"}`)

	cases := []struct {
		name    string
		frame   Frame
		wantErr string
	}{
		{
			name:  "valid send",
			frame: Frame{V: Version, Type: TypeSend, Destination: "/app/support.send/r1", Body: body},
		},
		{
			name:  "valid subscribe without id",
			frame: Frame{V: Version, Type: TypeSubscribe, Destination: "/topic/rooms/r1"},
		},
		{
			name:  "valid unsubscribe",
			frame: Frame{V: Version, Type: TypeUnsubscribe, Destination: QueueTopic},
		},
		{
			name:  "valid message",
			frame: Frame{V: Version, Type: TypeMessage, Destination: "/topic/rooms/r1", Body: body},
		},
		{
			name:  "error frame needs no destination",
			frame: Frame{V: Version, Type: TypeError},
		},
		{
			name:    "missing version",
			frame:   Frame{Type: TypeSend, Destination: "/app/support.send/r1", Body: body},
			wantErr: "missing field: v",
		},
		{
			name:    "wrong version",
			frame:   Frame{V: "v2", Type: TypeSend, Destination: "/app/support.send/r1", Body: body},
			wantErr: "unsupported protocol version",
		},
		{
			name:    "missing type",
			frame:   Frame{V: Version},
			wantErr: "missing field: type",
		},
		{
			name:    "unknown type",
			frame:   Frame{V: Version, Type: "ping"},
			wantErr: "unknown type",
		},
		{
			name:    "subscribe without destination",
			frame:   Frame{V: Version, Type: TypeSubscribe},
			wantErr: "missing field: destination",
		},
		{
			name:    "send without body",
			frame:   Frame{V: Version, Type: TypeSend, Destination: "/app/support.send/r1"},
			wantErr: "missing field: body",
		},
		{
			name:    "send without destination",
			frame:   Frame{V: Version, Type: TypeSend, Body: body},
			wantErr: "missing field: destination",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestFrameJSONOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(Frame{V: Version, Type: TypeSubscribe, Destination: QueueTopic})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, field := range []string{`"id"`, `"ts"`, `"body"`} {
		if strings.Contains(s, field) {
			t.Fatalf("marshal leaked empty field %s: %s", field, s)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{
		V:           Version,
		Type:        TypeMessage,
		ID:          "f-1",
		Destination: RoomTopic("r1"),
		TS:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Body:        json.RawMessage(`{"type":"TEXT","role":"USER","text":"hi"}`),
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Frame
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != in.Type || out.Destination != in.Destination || !out.TS.Equal(in.TS) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestParseRoomPayload(t *testing.T) {
	cases := []struct {
		name     string
		data     string
		wantKind RoomPayloadKind
		wantText string
		wantRaw  string
	}{
		{
			name:     "structured chat",
			data:     `{"type":"TEXT","role":"BOT","text":"hello"}`,
			wantKind: RoomPayloadChat,
			wantText: "hello",
		},
		{
			name:     "chat with only text",
			data:     `{"text":"bare"}`,
			wantKind: RoomPayloadChat,
			wantText: "bare",
		},
		{
			name:     "system marker without text",
			data:     `{"type":"HANDOFF_ACCEPTED","role":"SYS"}`,
			wantKind: RoomPayloadChat,
		},
		{
			name:     "plain string payload",
			data:     `How can I help?`,
			wantKind: RoomPayloadRaw,
			wantRaw:  `How can I help?`,
		},
		{
			name:     "json string unwraps to its contents",
			data:     `"Anything else I can help with?"`,
			wantKind: RoomPayloadRaw,
			wantRaw:  `Anything else I can help with?`,
		},
		{
			name:     "json string with escapes",
			data:     `"line one\nline two"`,
			wantKind: RoomPayloadRaw,
			wantRaw:  "line one\nline two",
		},
		{
			name:     "unrelated json object",
			data:     `{"foo":1}`,
			wantKind: RoomPayloadRaw,
			wantRaw:  `{"foo":1}`,
		},
		{
			name:     "empty payload",
			data:     ``,
			wantKind: RoomPayloadRaw,
			wantRaw:  ``,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseRoomPayload([]byte(tc.data))
			if got.Kind != tc.wantKind {
				t.Fatalf("Kind = %d, want %d", got.Kind, tc.wantKind)
			}
			if got.Kind == RoomPayloadChat && got.Chat.Text != tc.wantText {
				t.Fatalf("Chat.Text = %q, want %q", got.Chat.Text, tc.wantText)
			}
			if got.Kind == RoomPayloadRaw && got.Raw != tc.wantRaw {
				t.Fatalf("Raw = %q, want %q", got.Raw, tc.wantRaw)
			}
		})
	}
}

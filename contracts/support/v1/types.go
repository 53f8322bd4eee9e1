// Package v1 defines the support hand-off wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between the broker and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every frame.
const Version = "v1"

// Frame type constants (wire-stable).
const (
	// TypeConnected confirms a session (server -> client). First frame on every connection.
	TypeConnected = "connected"

	// TypeSubscribe registers interest in a destination (client -> server).
	TypeSubscribe = "subscribe"
	// TypeUnsubscribe drops interest in a destination (client -> server).
	TypeUnsubscribe = "unsubscribe"

	// TypeSend publishes a payload to a destination (client -> server).
	TypeSend = "send"
	// TypeMessage delivers a payload from a subscribed destination (server -> client).
	TypeMessage = "message"

	// TypeError is a generic error frame (server -> client).
	TypeError = "error"
)

// Frame is the canonical wire wrapper. The destination carries the routing key;
// room identity never travels inside the body.
type Frame struct {
	V           string          `json:"v"`
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	TS          time.Time       `json:"ts,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Validate performs strict structural validation for a Frame.
func (f Frame) Validate() error {
	if strings.TrimSpace(f.V) == "" {
		return errors.New("missing field: v")
	}
	if f.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", f.V)
	}
	if strings.TrimSpace(f.Type) == "" {
		return errors.New("missing field: type")
	}

	switch f.Type {
	case TypeConnected, TypeError:
		return nil
	case TypeSubscribe, TypeUnsubscribe:
		if strings.TrimSpace(f.Destination) == "" {
			return errors.New("missing field: destination")
		}
		return nil
	case TypeSend, TypeMessage:
		if strings.TrimSpace(f.Destination) == "" {
			return errors.New("missing field: destination")
		}
		if len(f.Body) == 0 {
			return errors.New("missing field: body")
		}
		return nil
	default:
		return fmt.Errorf("unknown type: %q", f.Type)
	}
}

// ---- Chat message model ----

// MessageType enumerates chat message kinds.
type MessageType string

const (
	MessageText            MessageType = "TEXT"
	MessageHandoffRequest  MessageType = "HANDOFF_REQUESTED"
	MessageHandoffAccepted MessageType = "HANDOFF_ACCEPTED"
)

// Role enumerates chat participants.
type Role string

const (
	RoleBot   Role = "BOT"
	RoleUser  Role = "USER"
	RoleAgent Role = "AGENT"
	RoleSys   Role = "SYS"
)

// ChatBody is one chat utterance published into a room. Immutable once sent.
type ChatBody struct {
	Type MessageType `json:"type"`
	Role Role        `json:"role,omitempty"`
	Text string      `json:"text,omitempty"`
}

// ---- Hand-off payloads ----

// QueueEventHandoffRequested is the event discriminator on the shared queue topic.
const QueueEventHandoffRequested = "HANDOFF_REQUESTED"

// HandoffRequestBody is published by a visitor asking for a human agent.
type HandoffRequestBody struct {
	UserName string `json:"userName"`
}

// QueueEvent is broadcast to every agent console when a hand-off is requested.
type QueueEvent struct {
	Event    string `json:"event"`
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// AcceptBody is published by an agent claiming a room.
type AcceptBody struct {
	RoomID string `json:"roomId"`
}

// ConnectedBody confirms the session and reports the negotiated role.
type ConnectedBody struct {
	SessionID string `json:"sessionId"`
	Agent     bool   `json:"agent"`
	AgentName string `json:"agentName,omitempty"`
}

// ErrorBody is a generic error frame payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---- Room payload decoding ----

// RoomPayloadKind tags the two inbound shapes a room topic can carry.
type RoomPayloadKind uint8

const (
	// RoomPayloadChat is a structured ChatBody.
	RoomPayloadChat RoomPayloadKind = iota
	// RoomPayloadRaw is a plain payload from a peer that emits bare strings.
	RoomPayloadRaw
)

// RoomPayload is the decoded form of a room-topic body. Raw payloads are a
// first-class variant, not an exception path.
type RoomPayload struct {
	Kind RoomPayloadKind
	Chat ChatBody
	Raw  string
}

// ParseRoomPayload decodes a room-topic body. Anything that is not a JSON
// object with a recognizable shape is surfaced verbatim as RoomPayloadRaw.
// A JSON string body unwraps to its contents, since that is the only form a
// bare-string payload can take inside a frame body.
func ParseRoomPayload(data []byte) RoomPayload {
	var chat ChatBody
	if err := json.Unmarshal(data, &chat); err == nil && (chat.Type != "" || chat.Text != "" || chat.Role != "") {
		return RoomPayload{Kind: RoomPayloadChat, Chat: chat}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return RoomPayload{Kind: RoomPayloadRaw, Raw: s}
	}
	return RoomPayload{Kind: RoomPayloadRaw, Raw: string(data)}
}

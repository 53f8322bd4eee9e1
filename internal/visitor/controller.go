// Package visitor implements the visitor side of the support chat: one room,
// one connection, a bot until a human joins.
package visitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	v1 "handoff/contracts/support/v1"
	"handoff/internal/chat"
	"handoff/internal/session"
	"handoff/internal/transport"
)

// State is the controller's connection lifecycle phase.
type State uint8

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

// String implements fmt.Stringer for logs.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Controller owns one visitor's chat session. The room id is minted at
// construction and never changes for the controller's lifetime; a fresh
// controller means a fresh room.
//
// All operations are guarded: called in the wrong state they do nothing.
// Failures are loud in logs and silent to the user, surfacing only as the
// absence of expected transcript changes.
type Controller struct {
	log    *slog.Logger
	sess   session.Context
	roomID string

	mu    sync.Mutex
	state State
	conn  *transport.Conn
	sub   *transport.Subscription

	transcript chat.Log
}

// New constructs a Controller and mints its room id.
func New(log *slog.Logger, sess session.Context) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:    log,
		sess:   sess,
		roomID: session.NewRoomID(),
		state:  StateInit,
	}
}

// RoomID returns the opaque room token for this session.
func (c *Controller) RoomID() string { return c.roomID }

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker and subscribes to the controller's own room topic.
// The subscription exists from the moment of connection; there is no joined /
// not-joined distinction on the visitor side.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := transport.Dial(ctx, transport.Config{
		URL:         c.sess.BrokerURL,
		BearerToken: c.sess.VisitorToken,
		Logger:      c.log,
	})
	if err != nil {
		c.log.Error("visitor.connect.fail", "room_id", c.roomID, "err", err)
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	sub := conn.Subscribe(v1.RoomTopic(c.roomID), c.onRoomFrame)

	c.mu.Lock()
	c.conn = conn
	c.sub = sub
	c.state = StateConnected
	c.mu.Unlock()

	go func() {
		<-conn.Done()
		c.mu.Lock()
		if c.conn == conn {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
	}()

	c.log.Info("visitor.connected", "room_id", c.roomID, "session_id", conn.SessionID())
	return nil
}

// SendText publishes a chat message into the room and echoes it locally
// without waiting for the round trip. Empty or whitespace-only text, or a
// controller that is not connected, produces neither a publish nor an echo.
func (c *Controller) SendText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	conn := c.connected()
	if conn == nil {
		return
	}

	body, _ := json.Marshal(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleUser, Text: text})
	conn.Send(v1.RoomSendDest(c.roomID), body)

	c.transcript.Append(chat.Entry{Type: v1.MessageText, Role: v1.RoleUser, Text: text, Local: true})
}

// RequestHandoff asks for a human agent. Safe to call repeatedly: the broker
// keeps one waiting entry per room and agent consoles dedup by room id.
// There is no timeout; an unanswered request waits indefinitely.
func (c *Controller) RequestHandoff() {
	conn := c.connected()
	if conn == nil {
		return
	}

	userName := strings.TrimSpace(c.sess.UserName)
	if userName == "" {
		userName = "anonymous"
	}

	body, _ := json.Marshal(v1.HandoffRequestBody{UserName: userName})
	conn.Send(v1.HandoffRequestDest(c.roomID), body)

	c.transcript.Append(chat.Entry{Type: v1.MessageHandoffRequest, Role: v1.RoleSys, Text: "You asked for a human agent.", Local: true})
}

// Transcript returns a copy of the conversation as this visitor saw it.
func (c *Controller) Transcript() []chat.Entry {
	return c.transcript.Snapshot()
}

// Close ends the session. The room is logically gone afterwards: nothing is
// persisted client-side and a new controller mints a new room id.
func (c *Controller) Close() {
	c.mu.Lock()
	sub, conn := c.sub, c.conn
	c.sub, c.conn = nil, nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}
}

func (c *Controller) connected() *transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

// onRoomFrame handles every frame arriving on the room topic.
func (c *Controller) onRoomFrame(f v1.Frame) {
	p := v1.ParseRoomPayload(f.Body)

	if p.Kind == v1.RoomPayloadRaw {
		// A peer that emits bare strings is treated as the bot speaking.
		c.transcript.Append(chat.Entry{Type: v1.MessageText, Role: v1.RoleBot, Text: p.Raw})
		return
	}

	switch p.Chat.Type {
	case v1.MessageHandoffRequest:
		c.transcript.Append(chat.Entry{Type: v1.MessageHandoffRequest, Role: v1.RoleSys, Text: "Waiting for an agent to join..."})
	case v1.MessageHandoffAccepted:
		c.transcript.Append(chat.Entry{Type: v1.MessageHandoffAccepted, Role: v1.RoleSys, Text: "An agent has joined the conversation."})
	default:
		if p.Chat.Text == "" {
			return
		}
		role := p.Chat.Role
		if role == "" {
			role = v1.RoleBot
		}
		c.transcript.Append(chat.Entry{Type: v1.MessageText, Role: role, Text: p.Chat.Text})
	}
}

// Package agent implements the agent console: a shared view of pending
// hand-off requests and at most one claimed room at a time.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	v1 "handoff/contracts/support/v1"
	"handoff/internal/chat"
	"handoff/internal/session"
	"handoff/internal/transport"
)

// ErrNotConnected is returned when an operation needs a live broker connection.
var ErrNotConnected = errors.New("agent: not connected")

// ErrNotAgent is returned when the broker did not recognize the bearer token,
// leaving the connection without agent rights.
var ErrNotAgent = errors.New("agent: broker did not grant agent role")

// QueueEntry is one pending hand-off request as seen by this console.
type QueueEntry struct {
	RoomID   string
	UserName string
}

// Console owns the agent side of the hand-off protocol.
//
// Every console keeps its own copy of the pending queue; consoles do not
// coordinate. Removal on accept is optimistic and local: another console may
// accept the same room concurrently, and both will believe they own it.
// That double-ownership race is inherent to the fan-out design.
type Console struct {
	log  *slog.Logger
	sess session.Context

	mu         sync.Mutex
	conn       *transport.Conn
	queueSub   *transport.Subscription
	roomSub    *transport.Subscription
	activeRoom string
	pending    []QueueEntry

	transcript chat.Log
}

// New constructs a Console.
func New(log *slog.Logger, sess session.Context) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{log: log, sess: sess}
}

// Connect dials the broker with the agent credential and subscribes to the
// shared hand-off queue topic. Connecting an already-connected console is a
// no-op.
func (c *Console) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := transport.Dial(ctx, transport.Config{
		URL:         c.sess.BrokerURL,
		BearerToken: c.sess.AgentToken,
		Logger:      c.log,
	})
	if err != nil {
		c.log.Error("agent.connect.fail", "err", err)
		return err
	}

	if !conn.Agent() {
		conn.Close()
		return ErrNotAgent
	}

	queueSub := conn.Subscribe(v1.QueueTopic, c.onQueueEvent)

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		queueSub.Unsubscribe()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.queueSub = queueSub
	c.mu.Unlock()

	c.log.Info("agent.connected", "agent", conn.AgentName(), "session_id", conn.SessionID())
	return nil
}

// PendingQueue returns a copy of the pending hand-off requests.
func (c *Console) PendingQueue() []QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]QueueEntry(nil), c.pending...)
}

// ActiveRoom returns the currently claimed room id, or "".
func (c *Console) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// AcceptHandoff claims a room: it removes the entry from this console's queue
// (optimistic, not broker-confirmed), tears down any previous room
// subscription, joins the new room's topic, and then publishes the accept
// command.
//
// The swap is ordered unsubscribe-then-subscribe so no cross-room frames land
// during it; a failed unsubscribe is swallowed and never blocks the join. The
// join precedes the accept so the broker's transcript replay and the accepted
// marker arrive on a registered handler.
func (c *Console) AcceptHandoff(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("agent: empty room id")
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	c.removePendingLocked(roomID)
	prev := c.roomSub
	c.roomSub = nil
	c.activeRoom = roomID
	c.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
	sub := conn.Subscribe(v1.RoomTopic(roomID), c.onRoomFrame)

	c.mu.Lock()
	c.roomSub = sub
	c.mu.Unlock()

	body, _ := json.Marshal(v1.AcceptBody{RoomID: roomID})
	conn.Send(v1.HandoffAcceptDest, body)

	c.log.Info("agent.accept", "room_id", roomID)
	return nil
}

// SendToRoom publishes a chat message into the active room with a local echo.
// Without an active room, or with blank text, it does nothing.
func (c *Console) SendToRoom(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	conn := c.conn
	roomID := c.activeRoom
	c.mu.Unlock()

	if conn == nil || roomID == "" {
		return
	}

	body, _ := json.Marshal(v1.ChatBody{Type: v1.MessageText, Role: v1.RoleAgent, Text: text})
	conn.Send(v1.RoomSendDest(roomID), body)

	c.transcript.Append(chat.Entry{Type: v1.MessageText, Role: v1.RoleAgent, Text: text, Local: true})
}

// Transcript returns a copy of the active-room conversation as this console saw it.
func (c *Console) Transcript() []chat.Entry {
	return c.transcript.Snapshot()
}

// Close tears the console down.
func (c *Console) Close() {
	c.mu.Lock()
	queueSub, roomSub, conn := c.queueSub, c.roomSub, c.conn
	c.queueSub, c.roomSub, c.conn = nil, nil, nil
	c.activeRoom = ""
	c.mu.Unlock()

	if roomSub != nil {
		roomSub.Unsubscribe()
	}
	if queueSub != nil {
		queueSub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}
}

// onQueueEvent maintains the pending queue. Duplicate deliveries for a room
// (repeated visitor clicks, or a re-established subscription) collapse into
// one entry.
func (c *Console) onQueueEvent(f v1.Frame) {
	var ev v1.QueueEvent
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		c.log.Warn("agent.queue.bad_event", "err", err)
		return
	}
	if ev.Event != v1.QueueEventHandoffRequested || ev.RoomID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.pending {
		if e.RoomID == ev.RoomID {
			return
		}
	}
	c.pending = append(c.pending, QueueEntry{RoomID: ev.RoomID, UserName: ev.UserName})
	c.log.Info("agent.queue.add", "room_id", ev.RoomID, "user_name", ev.UserName, "depth", len(c.pending))
}

func (c *Console) removePendingLocked(roomID string) {
	dst := c.pending[:0]
	for _, e := range c.pending {
		if e.RoomID != roomID {
			dst = append(dst, e)
		}
	}
	c.pending = dst
}

// onRoomFrame handles frames from the active room's topic.
func (c *Console) onRoomFrame(f v1.Frame) {
	p := v1.ParseRoomPayload(f.Body)

	if p.Kind == v1.RoomPayloadRaw {
		c.transcript.Append(chat.Entry{Type: v1.MessageText, Role: v1.RoleBot, Text: p.Raw})
		return
	}

	switch p.Chat.Type {
	case v1.MessageHandoffAccepted:
		c.transcript.Append(chat.Entry{Type: v1.MessageHandoffAccepted, Role: v1.RoleSys, Text: "Hand-off accepted."})
	case v1.MessageHandoffRequest:
		c.transcript.Append(chat.Entry{Type: v1.MessageHandoffRequest, Role: v1.RoleSys, Text: "Visitor asked for an agent."})
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

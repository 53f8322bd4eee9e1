package broker

import (
	"log/slog"
	"sync"

	v1 "handoff/contracts/support/v1"
)

// Topic is an in-memory membership + broadcast fanout primitive.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the broker.
//
// Delivery order is per-publisher FIFO: frames published by one session reach
// each subscriber in publish order. No ordering holds across publishers or topics.
type Topic struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewTopic constructs a topic.
func NewTopic(log *slog.Logger, name string) *Topic {
	return &Topic{
		log:     log,
		Name:    name,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (t *Topic) Join(client *Client) {
	if t == nil || client == nil || client.SessionID == "" {
		return
	}

	t.mu.Lock()
	t.members[client.SessionID] = client
	t.mu.Unlock()

	t.log.Info("topic.member.join", "topic", t.Name, "session_id", client.SessionID)
}

// Leave removes a client from membership. It does not close the client: one
// session may hold subscriptions on several topics at once.
func (t *Topic) Leave(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}

	t.mu.Lock()
	_, present := t.members[sessionID]
	delete(t.members, sessionID)
	t.mu.Unlock()

	if present {
		t.log.Info("topic.member.leave", "topic", t.Name, "session_id", sessionID)
	}
}

// Broadcast fans a frame out to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (t *Topic) Broadcast(frame v1.Frame) {
	t.BroadcastExcept(frame, "")
}

// BroadcastExcept fans a frame out to all members other than skipSessionID.
// Chat sends skip the publisher: the sender already appended its own local echo.
func (t *Topic) BroadcastExcept(frame v1.Frame, skipSessionID string) {
	if t == nil {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, m := range t.members {
		if m == nil || id == skipSessionID {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- frame:
		default:
			// Drop rather than block the whole topic.
			broadcastDrops.WithLabelValues(kindOf(t.Name)).Inc()
		}
	}
}

// Size returns the current member count.
func (t *Topic) Size() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

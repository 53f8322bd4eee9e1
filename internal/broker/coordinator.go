package broker

import (
	"log/slog"
	"sync"
)

// Coordinator tracks which rooms asked for a human and which are claimed.
//
// It deliberately performs no exclusivity arbitration: a second accept for the
// same room simply replaces the first claim ("last accept wins"). Fixing that
// race would need a server-confirmed compare-and-swap on room ownership, which
// is out of scope here.
type Coordinator struct {
	log *slog.Logger

	mu      sync.Mutex
	waiting map[string]string // roomID -> userName
	claimed map[string]string // roomID -> claiming session id
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(log *slog.Logger) *Coordinator {
	return &Coordinator{
		log:     log,
		waiting: make(map[string]string),
		claimed: make(map[string]string),
	}
}

// Request records a pending hand-off for a room. Re-requests overwrite in place,
// so a visitor clicking twice never produces two waiting entries.
func (c *Coordinator) Request(roomID, userName string) {
	c.mu.Lock()
	c.waiting[roomID] = userName
	c.mu.Unlock()

	c.log.Info("handoff.request", "room_id", roomID, "user_name", userName)
}

// Accept marks a room claimed by the given session and clears its waiting entry.
// It returns the previously claiming session id, if any.
func (c *Coordinator) Accept(roomID, sessionID string) (prev string) {
	c.mu.Lock()
	prev = c.claimed[roomID]
	c.claimed[roomID] = sessionID
	delete(c.waiting, roomID)
	c.mu.Unlock()

	c.log.Info("handoff.accept", "room_id", roomID, "session_id", sessionID, "replaced", prev)
	return prev
}

// Claimed reports whether a room has been claimed by an agent.
func (c *Coordinator) Claimed(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.claimed[roomID]
	return ok
}

// Release drops the claim held by sessionID on roomID, if still current.
// Used when a claiming agent disconnects so the bot resumes answering.
func (c *Coordinator) Release(roomID, sessionID string) {
	c.mu.Lock()
	if c.claimed[roomID] == sessionID {
		delete(c.claimed, roomID)
	}
	c.mu.Unlock()
}

// WaitingCount returns the number of rooms currently waiting for an agent.
func (c *Coordinator) WaitingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

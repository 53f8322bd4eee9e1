package broker

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory topics and provides stable topic handles.
// It is intentionally minimal: persistence lives behind Store.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		topics: make(map[string]*Topic),
	}
}

// GetOrCreate returns a stable in-memory topic handle.
func (h *Hub) GetOrCreate(name string) *Topic {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[name]; ok {
		return t
	}

	t := NewTopic(h.log, name)
	h.topics[name] = t
	return t
}

// Get returns an existing topic, or nil when nobody ever subscribed to it.
func (h *Hub) Get(name string) *Topic {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.topics[name]
}

package broker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	memMaxMessagesPerRoom = 10_000
)

// InMemoryStore is the fallback transcript store when no database is configured.
// Rooms are page-session scoped anyway, so losing transcripts on restart is acceptable.
type InMemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
}

type memRoom struct {
	seq  int64
	msgs []StoredMessage // ordered by seq
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms: make(map[string]*memRoom),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a message with monotonic per-room sequence allocation.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (StoredMessage, error) {
	if in.RoomID == "" || in.Type == "" {
		return StoredMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewFrameID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[in.RoomID]
	if r == nil {
		r = &memRoom{msgs: make([]StoredMessage, 0, 64)}
		s.rooms[in.RoomID] = r
	}

	r.seq++
	msg := StoredMessage{
		RoomID:   in.RoomID,
		Seq:      r.seq,
		ServerID: id,
		Type:     in.Type,
		Role:     in.Role,
		Text:     in.Text,
		ServerTS: now,
	}
	r.msgs = append(r.msgs, msg)

	// Bound memory to avoid unbounded growth.
	if len(r.msgs) > memMaxMessagesPerRoom {
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	return msg, nil
}

// History returns messages ordered by seq ASC with paging via after_seq.
func (s *InMemoryStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if in.RoomID == "" {
		return HistoryResult{}, errors.New("missing room id")
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	fetch := limit + 1

	s.mu.Lock()
	r := s.rooms[in.RoomID]
	var snap []StoredMessage
	if r != nil {
		snap = append([]StoredMessage(nil), r.msgs...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return HistoryResult{}, nil
	}

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return HistoryResult{}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return HistoryResult{Messages: out, HasMore: hasMore}, nil
}

package broker

import (
	"context"
	"time"

	v1 "handoff/contracts/support/v1"
)

// StoredMessage is the canonical persisted transcript entry.
type StoredMessage struct {
	RoomID   string
	Seq      int64
	ServerID string
	Type     v1.MessageType
	Role     v1.Role
	Text     string
	ServerTS time.Time
}

// Store persists and queries room transcripts.
//
// Requirements:
//   - Monotonic seq per room
//   - History query ordered by seq ASC
type Store interface {
	Append(ctx context.Context, in AppendInput) (StoredMessage, error)
	History(ctx context.Context, in HistoryInput) (HistoryResult, error)
	Close() error
}

// AppendInput describes a transcript append request.
type AppendInput struct {
	RoomID string
	Type   v1.MessageType
	Role   v1.Role
	Text   string
	Now    time.Time
}

// HistoryInput describes a history query request.
type HistoryInput struct {
	RoomID   string
	AfterSeq *int64
	Limit    int
}

// HistoryResult contains the retrieved transcript window.
type HistoryResult struct {
	Messages []StoredMessage
	HasMore  bool
}

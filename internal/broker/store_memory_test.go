package broker

import (
	"context"
	"fmt"
	"testing"

	v1 "handoff/contracts/support/v1"
)

func TestInMemoryStoreAppendAllocatesMonotonicSeq(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		msg, err := s.Append(ctx, AppendInput{
			RoomID: "r1",
			Type:   v1.MessageText,
			Role:   v1.RoleUser,
			Text:   fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if msg.Seq != int64(i) {
			t.Fatalf("seq = %d, want %d", msg.Seq, i)
		}
		if msg.ServerID == "" {
			t.Fatalf("append %d: empty server id", i)
		}
	}

	// Sequences are per-room.
	msg, err := s.Append(ctx, AppendInput{RoomID: "r2", Type: v1.MessageText, Role: v1.RoleBot, Text: "other"})
	if err != nil {
		t.Fatalf("append r2: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("r2 seq = %d, want 1", msg.Seq)
	}
}

func TestInMemoryStoreAppendRejectsInvalidInput(t *testing.T) {
	s := NewInMemoryStore()

	if _, err := s.Append(context.Background(), AppendInput{Type: v1.MessageText}); err == nil {
		t.Fatalf("append without room id should fail")
	}
	if _, err := s.Append(context.Background(), AppendInput{RoomID: "r1"}); err == nil {
		t.Fatalf("append without type should fail")
	}
}

func TestInMemoryStoreHistoryPaging(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		if _, err := s.Append(ctx, AppendInput{
			RoomID: "r1",
			Type:   v1.MessageText,
			Role:   v1.RoleUser,
			Text:   fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := s.History(ctx, HistoryInput{RoomID: "r1", Limit: 3})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(res.Messages) != 3 || !res.HasMore {
		t.Fatalf("page 1: got %d messages, hasMore=%v", len(res.Messages), res.HasMore)
	}
	if res.Messages[0].Seq != 1 || res.Messages[2].Seq != 3 {
		t.Fatalf("page 1 seqs: %d..%d", res.Messages[0].Seq, res.Messages[2].Seq)
	}

	after := res.Messages[len(res.Messages)-1].Seq
	res, err = s.History(ctx, HistoryInput{RoomID: "r1", AfterSeq: &after, Limit: 3})
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(res.Messages) != 3 || !res.HasMore {
		t.Fatalf("page 2: got %d messages, hasMore=%v", len(res.Messages), res.HasMore)
	}
	if res.Messages[0].Seq != 4 {
		t.Fatalf("page 2 first seq = %d, want 4", res.Messages[0].Seq)
	}

	after = res.Messages[len(res.Messages)-1].Seq
	res, err = s.History(ctx, HistoryInput{RoomID: "r1", AfterSeq: &after, Limit: 3})
	if err != nil {
		t.Fatalf("history page 3: %v", err)
	}
	if len(res.Messages) != 1 || res.HasMore {
		t.Fatalf("page 3: got %d messages, hasMore=%v", len(res.Messages), res.HasMore)
	}
	if res.Messages[0].Seq != 7 {
		t.Fatalf("page 3 seq = %d, want 7", res.Messages[0].Seq)
	}
}

func TestInMemoryStoreHistoryUnknownRoom(t *testing.T) {
	s := NewInMemoryStore()

	res, err := s.History(context.Background(), HistoryInput{RoomID: "ghost"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(res.Messages) != 0 || res.HasMore {
		t.Fatalf("unknown room returned data: %+v", res)
	}

	if _, err := s.History(context.Background(), HistoryInput{}); err == nil {
		t.Fatalf("history without room id should fail")
	}
}

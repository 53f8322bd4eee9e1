package broker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	v1 "handoff/contracts/support/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests run when HANDOFF_DATABASE_URL is set.
// This keeps local "go test ./..." fast and deterministic without Postgres.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("HANDOFF_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: HANDOFF_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse HANDOFF_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	return pool
}

func mustTestStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()

	schema := fmt.Sprintf("handoff_test_%d", time.Now().UnixNano())
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = pool.Exec(dctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return st
}

func TestPostgresStoreAppendAndHistory(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	st := mustTestStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for i := 1; i <= 4; i++ {
		msg, err := st.Append(ctx, AppendInput{
			RoomID: "it-room",
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
	}

	res, err := st.History(ctx, HistoryInput{RoomID: "it-room", Limit: 3})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(res.Messages) != 3 || !res.HasMore {
		t.Fatalf("history page: %d messages, hasMore=%v", len(res.Messages), res.HasMore)
	}

	after := res.Messages[2].Seq
	res, err = st.History(ctx, HistoryInput{RoomID: "it-room", AfterSeq: &after, Limit: 3})
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(res.Messages) != 1 || res.HasMore {
		t.Fatalf("history page 2: %d messages, hasMore=%v", len(res.Messages), res.HasMore)
	}
	if res.Messages[0].Text != "msg 4" {
		t.Fatalf("page 2 text = %q", res.Messages[0].Text)
	}
}

// Concurrent appends must never duplicate or skip a sequence number.
func TestPostgresStoreConcurrentAppendsKeepSeqDense(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	st := mustTestStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := st.Append(ctx, AppendInput{
					RoomID: "it-race",
					Type:   v1.MessageText,
					Role:   v1.RoleUser,
					Text:   fmt.Sprintf("w%d-%d", w, i),
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append: %v", err)
	}

	res, err := st.History(ctx, HistoryInput{RoomID: "it-race", Limit: 200})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(res.Messages) != writers*perWriter {
		t.Fatalf("stored %d messages, want %d", len(res.Messages), writers*perWriter)
	}
	for i, m := range res.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at index %d: got %d", i, m.Seq)
		}
	}
}

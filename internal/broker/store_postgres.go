package broker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	v1 "handoff/contracts/support/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-room transactional advisory locks to guarantee strict monotonic
//   seq allocation under concurrent appends.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "handoff").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("broker: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("broker: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "handoff",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("broker: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the transcript table when missing. The schema is one
// table on purpose; rooms are ephemeral and transcripts are append-only.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("broker: nil store")
	}

	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	messages := pgIdent(s.schema, "messages")
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+messages+` (
			room_id   text        NOT NULL,
			seq       bigint      NOT NULL,
			server_id text        NOT NULL,
			msg_type  text        NOT NULL,
			msg_role  text        NOT NULL,
			text      text        NOT NULL DEFAULT '',
			server_ts timestamptz NOT NULL,
			PRIMARY KEY (room_id, seq)
		)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Append appends a message with monotonic per-room sequence allocation.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (StoredMessage, error) {
	if s == nil || s.pool == nil {
		return StoredMessage{}, errors.New("broker: nil store")
	}
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

	serverID, err := NewFrameID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return StoredMessage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per room to guarantee strict monotonic ordering
	// without races. hashtextextended reduces collision risk vs hashtext.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return StoredMessage{}, fmt.Errorf("advisory lock: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM `+messages+` WHERE room_id = $1`,
		in.RoomID,
	).Scan(&seq); err != nil {
		return StoredMessage{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (room_id, seq, server_id, msg_type, msg_role, text, server_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.RoomID, seq, serverID, string(in.Type), string(in.Role), in.Text, now,
	); err != nil {
		return StoredMessage{}, fmt.Errorf("insert message: %w", err)
	}

	out := StoredMessage{
		RoomID:   in.RoomID,
		Seq:      seq,
		ServerID: serverID,
		Type:     in.Type,
		Role:     in.Role,
		Text:     in.Text,
		ServerTS: now,
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredMessage{}, err
	}
	return out, nil
}

// History returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if s == nil || s.pool == nil {
		return HistoryResult{}, errors.New("broker: nil store")
	}
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

	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)

	if in.AfterSeq == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT room_id, seq, server_id, msg_type, msg_role, text, server_ts
			   FROM `+messages+`
			  WHERE room_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.RoomID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT room_id, seq, server_id, msg_type, msg_role, text, server_ts
			   FROM `+messages+`
			  WHERE room_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.RoomID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return HistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		var (
			m        StoredMessage
			typ, rol string
		)
		if err := rows.Scan(&m.RoomID, &m.Seq, &m.ServerID, &typ, &rol, &m.Text, &m.ServerTS); err != nil {
			return HistoryResult{}, err
		}
		m.Type = v1.MessageType(typ)
		m.Role = v1.Role(rol)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return HistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	return HistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

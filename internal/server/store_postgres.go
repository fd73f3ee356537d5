// Package server contains the chat backend: websocket gateway, room
// fanout, notification sockets, and message persistence.
package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close it.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Per-room transactional advisory locks guarantee no sequence gaps
//   for duplicates and strict monotonic ordering under concurrency.
//
// Expected schema (managed outside this process):
//
//	CREATE TABLE skillly.room_cursors (
//	    room_id    text PRIMARY KEY,
//	    next_seq   bigint NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
//	CREATE TABLE skillly.messages (
//	    room_id     text NOT NULL,
//	    seq         bigint NOT NULL,
//	    message_id  text NOT NULL,
//	    fingerprint text NOT NULL,
//	    sender      text NOT NULL,
//	    content     text NOT NULL,
//	    sent_at     text NOT NULL,
//	    server_ts   timestamptz NOT NULL,
//	    PRIMARY KEY (room_id, seq),
//	    UNIQUE (room_id, fingerprint)
//	);
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "skillly").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("server: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("server: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "skillly",
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
		return nil, errors.New("server: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append appends a message with idempotency and monotonic sequence
// allocation.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("server: nil store")
	}
	if in.RoomID == "" || in.Fingerprint == "" || in.Sender == "" {
		return AppendResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "room_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per room so duplicates never waste a seq and
	// ordering stays strictly monotonic.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := readMessageByFingerprint(ctx, tx, messages, in.RoomID, in.Fingerprint)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, err
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (room_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (room_id) DO NOTHING`,
		in.RoomID,
	); err != nil {
		return AppendResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE room_id = $1
		RETURNING (next_seq - 1)`,
		in.RoomID,
	).Scan(&seq); err != nil {
		return AppendResult{}, err
	}

	messageID := ulid.Make().String()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     room_id, seq, message_id, fingerprint, sender, content, sent_at, server_ts
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.RoomID, seq, messageID, in.Fingerprint, in.Sender, in.Content, in.SentAt, now,
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	out := StoredMessage{
		RoomID:      in.RoomID,
		Fingerprint: in.Fingerprint,
		MessageID:   messageID,
		Seq:         seq,
		Sender:      in.Sender,
		Content:     in.Content,
		SentAt:      in.SentAt,
		ServerTS:    now,
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Stored: out, Duplicated: false}, nil
}

func readMessageByFingerprint(ctx context.Context, tx pgx.Tx, messagesTable, roomID, fingerprint string) (StoredMessage, error) {
	var m StoredMessage
	err := tx.QueryRow(ctx,
		`SELECT room_id, fingerprint, message_id, seq, sender, content, sent_at, server_ts
		   FROM `+messagesTable+`
		  WHERE room_id = $1 AND fingerprint = $2`,
		roomID, fingerprint,
	).Scan(&m.RoomID, &m.Fingerprint, &m.MessageID, &m.Seq, &m.Sender, &m.Content, &m.SentAt, &m.ServerTS)
	return m, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKV is a KV backed by PostgreSQL, for deployments where the
// messaging core runs server-backed and counters must survive the
// device.
//
// Ownership model:
// - PostgresKV does NOT own the pgx pool. The caller must close it.
// - Close() is therefore a no-op.
//
// Expected schema (managed externally, not migrated here):
//
//	CREATE TABLE <schema>.kv (
//	    key        text PRIMARY KEY,
//	    value      bytea NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
type PostgresKV struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresOption configures PostgresKV behavior.
type PostgresOption func(*PostgresKV) error

// WithSchema sets the DB schema (default "skillly"). The name is
// validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresKV) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("storage: empty schema")
		}
		if !pgIdent.MatchString(schema) {
			return errors.New("storage: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresKV constructs a Postgres-backed KV.
func NewPostgresKV(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresKV, error) {
	st := &PostgresKV{pool: pool, schema: "skillly"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("storage: nil pool")
	}
	return st, nil
}

func (s *PostgresKV) table() string {
	return fmt.Sprintf("%q.kv", s.schema)
}

func (s *PostgresKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !ValidKey(key) {
		return nil, false, ErrInvalidKey
	}

	var value []byte
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table())
	err := s.pool.QueryRow(ctx, q, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.table())
	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	q := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table())
	if _, err := s.pool.Exec(ctx, q, key); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	// Exact prefix match. LIKE would treat _ in the prefix as a
	// wildcard, and the marker keys are full of underscores.
	q := fmt.Sprintf(`SELECT key FROM %s WHERE left(key, length($1)) = $1 ORDER BY key`, s.table())
	rows, err := s.pool.Query(ctx, q, prefix)
	if err != nil {
		return nil, fmt.Errorf("storage: keys %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresKV) Close() error { return nil }

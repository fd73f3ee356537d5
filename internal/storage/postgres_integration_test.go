package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when SKILLLY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresKV_RoundTrip(t *testing.T) {
	t.Parallel()

	kv, cleanup := mustOpenTestKV(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	key := "unread_messages_" + randomHexKV(t, 8)

	if _, ok, err := kv.Get(ctx, key); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}

	if err := kv.Set(ctx, key, []byte(`{"7":2}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, key, []byte(`{"7":3}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte(`{"7":3}`)) {
		t.Fatalf("get=%q want %q", got, `{"7":3}`)
	}

	if err := kv.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, key); ok {
		t.Fatalf("key survived delete")
	}
}

func TestPostgresKV_KeysPrefixIsExact(t *testing.T) {
	t.Parallel()

	kv, cleanup := mustOpenTestKV(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Underscores in marker keys must not act as LIKE wildcards:
	// processed_42_ must not match processed_423_.
	for _, key := range []string{
		"processed_42_1756500000000",
		"processed_42_1756500001000",
		"processed_423_1756500000000",
		"processedX42_1756500000000",
	} {
		if err := kv.Set(ctx, key, []byte("1")); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	keys, err := kv.Keys(ctx, "processed_42_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"processed_42_1756500000000", "processed_42_1756500001000"}
	if len(keys) != len(want) {
		t.Fatalf("keys=%v want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d]=%q want %q", i, keys[i], want[i])
		}
	}
}

// ---- test helpers ----

func randomHexKV(t *testing.T, n int) string {
	t.Helper()

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(b)
}

// mustOpenTestKV connects, provisions a throwaway schema with the kv
// table, and returns a cleanup that drops it.
func mustOpenTestKV(t *testing.T) (*PostgresKV, func()) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("SKILLLY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: SKILLLY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse SKILLLY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	schema := "skillly_it_" + randomHexKV(t, 8)
	ddl := fmt.Sprintf(`
CREATE SCHEMA %s;
CREATE TABLE %s.kv (
  key        TEXT PRIMARY KEY,
  value      BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, pgx.Identifier{schema}.Sanitize(), pgx.Identifier{schema}.Sanitize())
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		t.Fatalf("create schema: %v", err)
	}

	kv, err := NewPostgresKV(pool, WithSchema(schema))
	if err != nil {
		pool.Close()
		t.Fatalf("new postgres kv: %v", err)
	}

	cleanup := func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	}
	return kv, cleanup
}

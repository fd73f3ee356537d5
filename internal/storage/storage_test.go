package storage

import (
	"context"
	"testing"
)

func kvImpls(t *testing.T) map[string]KV {
	t.Helper()

	fileKV, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}

	return map[string]KV{
		"memory": NewMemoryKV(),
		"file":   fileKV,
	}
}

func TestKVRoundTrip(t *testing.T) {
	t.Parallel()

	for name, kv := range kvImpls(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			if _, found, err := kv.Get(ctx, "unread_messages_42"); err != nil || found {
				t.Fatalf("Get on empty store: found=%v err=%v", found, err)
			}

			if err := kv.Set(ctx, "unread_messages_42", []byte(`{"7":2}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}

			v, found, err := kv.Get(ctx, "unread_messages_42")
			if err != nil || !found {
				t.Fatalf("Get: found=%v err=%v", found, err)
			}
			if string(v) != `{"7":2}` {
				t.Fatalf("Get=%q", v)
			}

			if err := kv.Delete(ctx, "unread_messages_42"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, found, _ := kv.Get(ctx, "unread_messages_42"); found {
				t.Fatal("value survived Delete")
			}

			// Deleting a missing key is not an error.
			if err := kv.Delete(ctx, "unread_messages_42"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
		})
	}
}

func TestKVKeysPrefix(t *testing.T) {
	t.Parallel()

	for name, kv := range kvImpls(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			for _, k := range []string{"processed_42_1", "processed_42_2", "unread_messages_42"} {
				if err := kv.Set(ctx, k, []byte("x")); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}

			keys, err := kv.Keys(ctx, "processed_42_")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 2 {
				t.Fatalf("Keys=%v want 2 entries", keys)
			}
			for _, k := range keys {
				if k != "processed_42_1" && k != "processed_42_2" {
					t.Fatalf("unexpected key %q", k)
				}
			}
		})
	}
}

func TestKVRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	for name, kv := range kvImpls(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			for _, k := range []string{"", "../escape", "a/b", ".hidden"} {
				if err := kv.Set(ctx, k, []byte("x")); err == nil {
					t.Fatalf("Set accepted invalid key %q", k)
				}
			}
		})
	}
}

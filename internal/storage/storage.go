// Package storage provides the small durable key-value surface the
// messaging core persists through: unread counters, the echo fallback
// slot, and its processed markers.
package storage

import (
	"context"
	"errors"
	"regexp"
)

// ErrInvalidKey is returned for keys outside the allowed charset.
var ErrInvalidKey = errors.New("storage: invalid key")

// keyPattern bounds keys to a filesystem- and SQL-safe charset.
// All keys the core generates (unread_messages_<id>, processed_<id>_<ts>)
// fit this shape.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// KV is a flat durable key-value store.
//
// Absence is meaningful: Get reports found=false for missing keys and
// Delete on a missing key is not an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ValidKey reports whether key is acceptable to every KV implementation.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

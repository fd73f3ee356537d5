package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/storage"
)

const (
	// slotKey holds the most recent published event. A single slot, not
	// a queue: only the latest event survives a restart.
	slotKey = "global_message_event"

	processedPrefix = "processed_"

	// processedTTL bounds how long catch-up markers are kept.
	processedTTL = 24 * time.Hour
)

// Fallback persists the most recent bus event so a listener that starts
// after the publish (or after a restart) can catch up exactly once.
type Fallback struct {
	log *slog.Logger
	kv  storage.KV
}

// NewFallback constructs a durable fallback over kv.
func NewFallback(log *slog.Logger, kv storage.KV) *Fallback {
	return &Fallback{log: log, kv: kv}
}

// Record overwrites the slot with event.
func (f *Fallback) Record(ctx context.Context, event v1.GlobalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.kv.Set(ctx, slotKey, data)
}

// CatchUp delivers the stored event to h unless the user already
// processed it or sent it themselves, then marks it processed.
func (f *Fallback) CatchUp(ctx context.Context, userID string, h Handler) error {
	data, found, err := f.kv.Get(ctx, slotKey)
	if err != nil || !found {
		return err
	}

	var event v1.GlobalEvent
	if err := json.Unmarshal(data, &event); err != nil {
		f.log.Warn("bus.fallback.decode.fail", "err", err)
		return nil
	}

	// Never echo a user's own send back at them.
	if event.SenderID == userID {
		return nil
	}

	marker := processedKey(userID, event.Timestamp)
	if _, done, err := f.kv.Get(ctx, marker); err != nil || done {
		return err
	}

	h(event)

	if err := f.kv.Set(ctx, marker, []byte("1")); err != nil {
		return err
	}

	f.log.Debug("bus.fallback.catchup", "user_id", userID, "room_id", event.RoomID)
	return nil
}

// CleanupProcessed drops processed markers older than 24 hours.
func (f *Fallback) CleanupProcessed(ctx context.Context, userID string, now time.Time) error {
	prefix := processedPrefix + userID + "_"
	keys, err := f.kv.Keys(ctx, prefix)
	if err != nil {
		return err
	}

	cutoff := now.Add(-processedTTL).UnixMilli()
	for _, k := range keys {
		ts, err := strconv.ParseInt(strings.TrimPrefix(k, prefix), 10, 64)
		if err != nil {
			continue
		}
		if ts < cutoff {
			if err := f.kv.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func processedKey(userID string, ts int64) string {
	return fmt.Sprintf("%s%s_%d", processedPrefix, userID, ts)
}

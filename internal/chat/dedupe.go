package chat

import (
	"sync"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
)

const (
	// dedupeCapacity caps the per-room fingerprint set.
	dedupeCapacity = 100
	// dedupeKeep is what survives a trim: the most recent half.
	// Batch-trimming halves the bookkeeping of an exact LRU while
	// keeping the recent window that duplicates actually land in.
	dedupeKeep = 50
)

// Dedupe suppresses re-delivery of messages the transport or server
// repeats. The transport offers no exactly-once guarantee; the design
// target is at-most-once visible delivery, accepting the silent drop
// of true duplicates as the safe failure mode.
type Dedupe struct {
	mu    sync.Mutex
	rooms map[string]*fingerprintSet
}

type fingerprintSet struct {
	seen  map[string]struct{}
	order []string
}

// NewDedupe constructs an empty cache.
func NewDedupe() *Dedupe {
	return &Dedupe{rooms: make(map[string]*fingerprintSet)}
}

// ShouldDeliver reports whether msg is first-seen for roomID and
// records its fingerprint. Idempotent per fingerprint: every later
// call within the retention window returns false.
func (d *Dedupe) ShouldDeliver(roomID string, msg v1.Message) bool {
	fp := msg.Fingerprint()

	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.rooms[roomID]
	if set == nil {
		set = &fingerprintSet{seen: make(map[string]struct{})}
		d.rooms[roomID] = set
	}

	if _, dup := set.seen[fp]; dup {
		return false
	}

	set.seen[fp] = struct{}{}
	set.order = append(set.order, fp)

	if len(set.order) > dedupeCapacity {
		drop := set.order[:len(set.order)-dedupeKeep]
		for _, old := range drop {
			delete(set.seen, old)
		}
		set.order = append([]string(nil), set.order[len(set.order)-dedupeKeep:]...)
	}

	return true
}

// DropRoom forgets a room's fingerprints entirely.
func (d *Dedupe) DropRoom(roomID string) {
	d.mu.Lock()
	delete(d.rooms, roomID)
	d.mu.Unlock()
}

// size reports the current fingerprint count for a room (tests only).
func (d *Dedupe) size(roomID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set := d.rooms[roomID]; set != nil {
		return len(set.order)
	}
	return 0
}

package evm

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// dedupRing is a bounded ring-buffer of recently observed (txHash,
// logIndex) keys, used to suppress replays across overlapping log queries
// (spec §4.D). Keys are hashed with xxh3 the way ethkit's ethmonitor keys
// its own block/log caches, so only a 64-bit hash per event is retained;
// two distinct keys with the same hash are treated as duplicates.
type dedupRing struct {
	mu      sync.Mutex
	size    int
	entries map[uint64]struct{}
	order   []uint64
	pos     int
}

func newDedupRing(size int) *dedupRing {
	return &dedupRing{
		size:    size,
		entries: make(map[uint64]struct{}, size),
		order:   make([]uint64, size),
	}
}

func dedupKey(txHash string, logIndex uint) uint64 {
	h := xxh3.New()
	h.WriteString(txHash)
	var idx [4]byte
	idx[0] = byte(logIndex)
	idx[1] = byte(logIndex >> 8)
	idx[2] = byte(logIndex >> 16)
	idx[3] = byte(logIndex >> 24)
	h.Write(idx[:])
	return h.Sum64()
}

// seen reports whether (txHash, logIndex) was already observed, recording
// it if not. Returns true when the event should be suppressed as a
// duplicate.
func (d *dedupRing) seen(txHash string, logIndex uint) bool {
	key := dedupKey(txHash, logIndex)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[key]; ok {
		return true
	}

	if old := d.order[d.pos]; old != 0 {
		delete(d.entries, old)
	}
	d.order[d.pos] = key
	d.entries[key] = struct{}{}
	d.pos = (d.pos + 1) % d.size

	return false
}

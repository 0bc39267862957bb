package chainstate

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// liveEntry is one slot of the live-blocks ring: a block hash and the
// operation hashes it contributed.
type liveEntry struct {
	hash coretypes.BlockHash
	ops  mapset.Set[coretypes.OperationHash]
}

// liveWindow is the fixed-capacity ring of (BlockHash, Set<OperationHash>)
// covering the last max_operations_ttl+1 blocks. Rebuild is O(TTL); the
// incremental path used when the new head is the direct child of the
// previous head is O(1) amortised.
type liveWindow struct {
	capacity int
	entries  []liveEntry // ring buffer, oldest at index `head`
	head     int         // index of the oldest entry
	count    int
}

func newLiveWindow(capacity int) *liveWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &liveWindow{capacity: capacity, entries: make([]liveEntry, capacity)}
}

// capacityMatches reports whether this ring's capacity equals the expected
// TTL-derived capacity, a precondition for the incremental-update path.
func (w *liveWindow) capacityMatches(expected int) bool { return w.capacity == expected }

// pushIncremental adds a new entry, evicting the oldest if the ring is full
// (the incremental O(1) path, used when new_head is the immediate child of
// current_head).
func (w *liveWindow) pushIncremental(hash coretypes.BlockHash, ops mapset.Set[coretypes.OperationHash]) {
	idx := (w.head + w.count) % w.capacity
	if w.count < w.capacity {
		w.entries[idx] = liveEntry{hash: hash, ops: ops}
		w.count++
		return
	}
	w.entries[w.head] = liveEntry{hash: hash, ops: ops}
	w.head = (w.head + 1) % w.capacity
}

// rebuild replaces the ring wholesale with entries ordered oldest-first,
// truncating to the trailing `capacity` entries if longer (the O(TTL)
// rebuild path, used on reorg or capacity mismatch).
func (w *liveWindow) rebuild(capacity int, orderedOldestFirst []liveEntry) {
	if capacity < 1 {
		capacity = 1
	}
	w.capacity = capacity
	w.entries = make([]liveEntry, capacity)
	if len(orderedOldestFirst) > capacity {
		orderedOldestFirst = orderedOldestFirst[len(orderedOldestFirst)-capacity:]
	}
	w.count = len(orderedOldestFirst)
	w.head = 0
	copy(w.entries, orderedOldestFirst)
}

// liveBlocksAndOperations derives live_blocks (exactly the ancestors of
// current_head within max_operations_ttl+1) and live_operations (the union
// of their operation hashes).
func (w *liveWindow) liveBlocksAndOperations() (mapset.Set[coretypes.BlockHash], mapset.Set[coretypes.OperationHash]) {
	blocks := mapset.NewThreadUnsafeSet[coretypes.BlockHash]()
	ops := mapset.NewThreadUnsafeSet[coretypes.OperationHash]()
	for i := 0; i < w.count; i++ {
		e := w.entries[(w.head+i)%w.capacity]
		blocks.Add(e.hash)
		if e.ops != nil {
			ops = ops.Union(e.ops)
		}
	}
	return blocks, ops
}

package mempool

import (
	"github.com/ethereum-mive/coreshell/coretypes"
)

// RingEntry is one bounded-map entry: the operation plus the protocol error
// trace that produced its classification.
type RingEntry struct {
	Op     coretypes.Operation
	Errors []coretypes.OperationError
}

// boundedRing is a fixed-capacity eviction ring plus an unbounded map kept
// in sync with it, backing each of Refused/Outdated/BranchRefused/
// BranchDelayed. Eviction fires onDiscard, which the owning store uses to
// clear the hash from in_mempool.
type boundedRing struct {
	capacity  int
	order     []coretypes.OperationHash
	head      int
	count     int
	entries   map[coretypes.OperationHash]RingEntry
	onDiscard func(coretypes.OperationHash, RingEntry)
}

func newBoundedRing(capacity int, onDiscard func(coretypes.OperationHash, RingEntry)) *boundedRing {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedRing{
		capacity:  capacity,
		order:     make([]coretypes.OperationHash, capacity),
		entries:   make(map[coretypes.OperationHash]RingEntry, capacity),
		onDiscard: onDiscard,
	}
}

// put inserts oph, evicting the oldest entry if the ring is already full.
// Re-inserting a hash already present just refreshes its entry in place.
func (r *boundedRing) put(oph coretypes.OperationHash, entry RingEntry) {
	if _, exists := r.entries[oph]; exists {
		r.entries[oph] = entry
		return
	}
	if r.count == r.capacity {
		evicted := r.order[r.head]
		evictedEntry := r.entries[evicted]
		delete(r.entries, evicted)
		r.order[r.head] = oph
		r.head = (r.head + 1) % r.capacity
		r.entries[oph] = entry
		if r.onDiscard != nil {
			r.onDiscard(evicted, evictedEntry)
		}
		return
	}
	idx := (r.head + r.count) % r.capacity
	r.order[idx] = oph
	r.count++
	r.entries[oph] = entry
}

func (r *boundedRing) get(oph coretypes.OperationHash) (RingEntry, bool) {
	e, ok := r.entries[oph]
	return e, ok
}

func (r *boundedRing) has(oph coretypes.OperationHash) bool {
	_, ok := r.entries[oph]
	return ok
}

// remove drops oph without running onDiscard. Nothing in the package calls
// it at present.
func (r *boundedRing) remove(oph coretypes.OperationHash) {
	delete(r.entries, oph)
}

// reset empties the ring entirely without firing onDiscard (flush's "drop
// branch_delayed entirely").
func (r *boundedRing) reset() {
	r.order = make([]coretypes.OperationHash, r.capacity)
	r.head = 0
	r.count = 0
	r.entries = make(map[coretypes.OperationHash]RingEntry, r.capacity)
}

func (r *boundedRing) hashes() []coretypes.OperationHash {
	out := make([]coretypes.OperationHash, 0, len(r.entries))
	for h := range r.entries {
		out = append(out, h)
	}
	return out
}

package mempool

import (
	"container/list"
	"sync"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// defaultRingCapacity bounds each of the four error buckets; the oldest
// entry is evicted to admit a new one once full.
const defaultRingCapacity = 1000

// ClassificationStore is the mempool's classification store: four bounded
// rings, the unbounded applied/prechecked/unparsable collections, and the
// derived in_mempool map used for O(1) membership tests -- a hash is in at
// most one of these at a time.
type ClassificationStore struct {
	mu sync.Mutex

	refused       *boundedRing
	outdated      *boundedRing
	branchRefused *boundedRing
	branchDelayed *boundedRing

	appliedRev   *list.List // front = most recently applied
	appliedIndex map[coretypes.OperationHash]*list.Element

	prechecked map[coretypes.OperationHash]coretypes.Operation
	unparsable map[coretypes.OperationHash]struct{}
	banned     map[coretypes.OperationHash]struct{}

	inMempool map[coretypes.OperationHash]coretypes.ClassificationKind

	onDiscardedOperation func(coretypes.OperationHash, RingEntry)
}

// NewClassificationStore builds a store with four rings of ringCapacity.
// onDiscarded fires whenever a ring evicts an entry to admit a new one.
func NewClassificationStore(ringCapacity int, onDiscarded func(coretypes.OperationHash, RingEntry)) *ClassificationStore {
	if ringCapacity <= 0 {
		ringCapacity = defaultRingCapacity
	}
	s := &ClassificationStore{
		appliedRev:           list.New(),
		appliedIndex:         make(map[coretypes.OperationHash]*list.Element),
		prechecked:           make(map[coretypes.OperationHash]coretypes.Operation),
		unparsable:           make(map[coretypes.OperationHash]struct{}),
		banned:               make(map[coretypes.OperationHash]struct{}),
		inMempool:            make(map[coretypes.OperationHash]coretypes.ClassificationKind),
		onDiscardedOperation: onDiscarded,
	}
	discard := func(kind coretypes.ClassificationKind) func(coretypes.OperationHash, RingEntry) {
		return func(oph coretypes.OperationHash, entry RingEntry) {
			if s.inMempool[oph] == kind {
				delete(s.inMempool, oph)
			}
			if s.onDiscardedOperation != nil {
				s.onDiscardedOperation(oph, entry)
			}
		}
	}
	s.refused = newBoundedRing(ringCapacity, discard(coretypes.Refused))
	s.outdated = newBoundedRing(ringCapacity, discard(coretypes.Outdated))
	s.branchRefused = newBoundedRing(ringCapacity, discard(coretypes.BranchRefused))
	s.branchDelayed = newBoundedRing(ringCapacity, discard(coretypes.BranchDelayed))
	return s
}

// Kind reports the classification currently held for oph, if any -- at
// most one at a time.
func (s *ClassificationStore) Kind(oph coretypes.OperationHash) (coretypes.ClassificationKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.inMempool[oph]
	return k, ok
}

// IsHandled reports whether oph is already in any of applied/prechecked/
// the four rings/unparsable/banned, the "already handled, drop it" check
// made on every arriving operation.
func (s *ClassificationStore) IsHandled(oph coretypes.OperationHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inMempool[oph]; ok {
		return true
	}
	if _, ok := s.unparsable[oph]; ok {
		return true
	}
	if _, ok := s.banned[oph]; ok {
		return true
	}
	return false
}

func (s *ClassificationStore) InsertApplied(op coretypes.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertAppliedLocked(op)
}

func (s *ClassificationStore) insertAppliedLocked(op coretypes.Operation) {
	el := s.appliedRev.PushFront(op)
	s.appliedIndex[op.Hash] = el
	s.inMempool[op.Hash] = coretypes.Applied
}

// RemoveApplied removes oph from the applied list, reporting whether it was
// present (used by Ban).
func (s *ClassificationStore) RemoveApplied(oph coretypes.OperationHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.appliedIndex[oph]
	if !ok {
		return false
	}
	s.appliedRev.Remove(el)
	delete(s.appliedIndex, oph)
	delete(s.inMempool, oph)
	return true
}

func (s *ClassificationStore) AppliedOperations() []coretypes.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]coretypes.Operation, 0, s.appliedRev.Len())
	for el := s.appliedRev.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(coretypes.Operation))
	}
	return out
}

func (s *ClassificationStore) InsertPrechecked(op coretypes.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prechecked[op.Hash] = op
	s.inMempool[op.Hash] = coretypes.Prechecked
}

func (s *ClassificationStore) InsertRing(kind coretypes.ClassificationKind, op coretypes.Operation, errs []coretypes.OperationError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringFor(kind).put(op.Hash, RingEntry{Op: op, Errors: errs})
	s.inMempool[op.Hash] = kind
}

func (s *ClassificationStore) ringFor(kind coretypes.ClassificationKind) *boundedRing {
	switch kind {
	case coretypes.Refused:
		return s.refused
	case coretypes.Outdated:
		return s.outdated
	case coretypes.BranchRefused:
		return s.branchRefused
	case coretypes.BranchDelayed:
		return s.branchDelayed
	default:
		panic("mempool: ringFor called with non-ring classification kind")
	}
}

func (s *ClassificationStore) InsertUnparsable(oph coretypes.OperationHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unparsable[oph] = struct{}{}
}

func (s *ClassificationStore) ClearUnparsable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unparsable = make(map[coretypes.OperationHash]struct{})
}

func (s *ClassificationStore) ClearPrechecked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for oph := range s.prechecked {
		delete(s.inMempool, oph)
	}
	s.prechecked = make(map[coretypes.OperationHash]coretypes.Operation)
}

// ClearBranchDelayed drops branch_delayed entirely without firing
// on_discarded_operation.
func (s *ClassificationStore) ClearBranchDelayed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.branchDelayed.hashes() {
		delete(s.inMempool, h)
	}
	s.branchDelayed.reset()
}

// ClearBranchRefused drops branch_refused, only called when
// handle_branch_refused is true.
func (s *ClassificationStore) ClearBranchRefused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.branchRefused.hashes() {
		delete(s.inMempool, h)
	}
	s.branchRefused.reset()
}

func (s *ClassificationStore) Ban(oph coretypes.OperationHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned[oph] = struct{}{}
}

func (s *ClassificationStore) Unban(oph coretypes.OperationHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, oph)
}

func (s *ClassificationStore) IsBanned(oph coretypes.OperationHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.banned[oph]
	return ok
}

// RingEntries returns the operations currently classified under kind
// (Refused/Outdated/BranchRefused/BranchDelayed), used by recycling and
// tests.
func (s *ClassificationStore) RingEntries(kind coretypes.ClassificationKind) []RingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.ringFor(kind)
	out := make([]RingEntry, 0, len(ring.entries))
	for _, e := range ring.entries {
		out = append(out, e)
	}
	return out
}

package chainstate

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/store"
)

// mutator is the handle passed to UpdateWith callbacks; every method here
// assumes the caller already holds State.mu for writing.
type mutator struct{ s *State }

// SetHeadResult reports what set_head did, letting callers (the out-of-scope
// ChainValidator) distinguish a real switch from the benign no-op race of
// step 3.
type SetHeadResult struct {
	Changed      bool
	MergeStarted bool
}

// SetHead applies a validated head switch: checkpoint/target compatibility,
// live-window maintenance, and merge scheduling all happen here. newHead
// must already have its metadata available (the caller -- BlockValidator --
// guarantees this).
func (m *mutator) SetHead(newHead *coretypes.BlockRepr) (SetHeadResult, error) {
	s := m.s

	// Step 1: a sticky MergeFailed status passes through with a log; it does
	// not block set_head, it only suppresses starting a new merge.
	mergeKind, mergeErrs := s.store.GetMergeStatus()
	mergeIsFailed := mergeKind == store.MergeFailed
	if mergeIsFailed {
		s.log.Warn("Chain store merge previously failed; proceeding without starting a new merge", "errors", mergeErrs)
	}

	desc := newHead.Descriptor()
	if newHead.Metadata == nil {
		return SetHeadResult{}, &ErrBadHeadInvariant{Predecessor: newHead.Header.Predecessor}
	}

	// Step 2: level/checkpoint/target compatibility.
	if desc.Level < s.p.Checkpoint.Level {
		return SetHeadResult{}, &ErrInvalidHeadSwitch{CheckpointLevel: s.p.Checkpoint.Level, GivenHead: desc}
	}
	if !isAcceptableBlock(s.snapshot(), desc.Hash, desc.Level) {
		return SetHeadResult{}, &ErrInvalidHeadSwitch{CheckpointLevel: s.p.Checkpoint.Level, GivenHead: desc}
	}

	// Step 3: benign race -- newHead is already an ancestor of a current
	// head.
	for _, head := range append([]coretypes.BlockDescriptor{s.p.CurrentHead}, s.p.AlternateHeads...) {
		if head.Hash == desc.Hash {
			return SetHeadResult{}, nil
		}
		if head.Level >= desc.Level {
			if ok, err := isAncestorOf(s.store, desc, head.Hash); err == nil && ok {
				return SetHeadResult{}, nil
			}
		}
	}

	// Step 4: predecessor must be retrievable with metadata.
	predBlock, err := s.store.ReadBlock(newHead.Header.Predecessor, true)
	if err != nil || predBlock.Metadata == nil {
		return SetHeadResult{}, &ErrBadHeadInvariant{Predecessor: newHead.Header.Predecessor}
	}

	// Step 5.
	newHeadLafl := newHead.Metadata.LastAllowedForkLevel
	if m.s.isTestchain && newHeadLafl < s.p.Caboose.Level {
		// Test chains fork below the caboose and never cement past it, so a
		// lafl trailing the caboose would otherwise stall cementing forever;
		// clamp it explicitly here rather than folding the exception into
		// the general lafl computation.
		newHeadLafl = s.p.Caboose.Level
	}

	// Step 6: bootstrap cementing_highwatermark if absent (fresh import).
	if s.p.CementingHighwatermark == nil {
		if newHeadLafl >= s.p.Caboose.Level {
			highest := s.p.Checkpoint.Level // best local knowledge absent a cemented store reference
			hw := maxInt32(highest, newHeadLafl)
			s.p.CementingHighwatermark = &hw
		}
	}

	// Step 7: resolve the lafl-block on the new head's branch.
	laflBlock, err := ancestorAtLevel(s.store, desc.Hash, newHeadLafl)
	if err != nil {
		return SetHeadResult{}, err
	}

	// Step 8: may_update_checkpoint_and_target.
	newCheckpoint := s.p.Checkpoint
	if laflBlock.Header.Level > s.p.Checkpoint.Level {
		newCheckpoint = laflBlock.Descriptor()
	}
	newTarget := s.p.Target
	if s.p.Target != nil {
		if s.p.Target.Level > desc.Level {
			return SetHeadResult{}, &ErrTargetMismatch{Target: *s.p.Target, NewHead: desc}
		}
		ok, err := isAncestorOf(s.store, *s.p.Target, desc.Hash)
		if err != nil || !ok {
			return SetHeadResult{}, &ErrTargetMismatch{Target: *s.p.Target, NewHead: desc}
		}
		if s.p.Target.Level == desc.Level {
			newTarget = nil
		}
	}

	// Step 9: decide should_merge.
	shouldMerge := !mergeIsFailed && mergeKind != store.MergeRunning &&
		s.p.CementingHighwatermark != nil && newHeadLafl > *s.p.CementingHighwatermark

	// Step 11: trim alternate_heads and possibly demote the old current head.
	oldCurrentHead := s.p.CurrentHead
	newAlternates := make([]coretypes.BlockDescriptor, 0, len(s.p.AlternateHeads)+1)
	for _, alt := range s.p.AlternateHeads {
		if ok, err := isAncestorOf(s.store, alt, newCheckpoint.Hash); err == nil && (ok || alt.Level <= newCheckpoint.Level) {
			continue // an ancestor of the new checkpoint, or at or below its level: drop
		}
		newAlternates = append(newAlternates, alt)
	}
	if descendant, err := isAncestorOf(s.store, oldCurrentHead, desc.Hash); err != nil || !descendant {
		newAlternates = append(newAlternates, oldCurrentHead)
	}

	// Step 12: filter invalid_blocks.
	if newCheckpoint.Level > s.p.Checkpoint.Level {
		for h, entry := range s.p.InvalidBlocks {
			if entry.Level <= newCheckpoint.Level {
				delete(s.p.InvalidBlocks, h)
			}
		}
	}

	// Step 10: spawn the merge if decided. Done before persisting so the
	// finalizer's own UpdateWith call (after this one returns) observes the
	// already-committed cementing_highwatermark bootstrap.
	mergeStarted := false
	if shouldMerge {
		hw := *s.p.CementingHighwatermark
		finalizer := func(newHighest int32) error {
			return s.UpdateWith(func(m2 *mutator) error {
				m2.s.p.CementingHighwatermark = &newHighest
				return writeCellAtomic(cellPath(m2.s.dir, "cementing_highwatermark"), m2.s.p.CementingHighwatermark)
			})
		}
		go func() {
			if err := s.store.MergeStores(hw, newHeadLafl, desc.Hash, s.p.ChainConfig.HistoryMode, func(error) {}, finalizer); err != nil {
				s.log.Warn("Merge did not complete", "err", err)
			}
		}()
		mergeStarted = true
	}

	// Step 13: persist in order, then recompute the live window.
	s.p.Checkpoint = newCheckpoint
	s.p.CurrentHead = desc
	s.p.AlternateHeads = newAlternates
	s.p.Target = newTarget
	if err := s.persistAll(); err != nil {
		return SetHeadResult{}, err
	}
	m.recomputeLiveWindow(oldCurrentHead, newHead)

	// Step 14: emit the new-head event.
	s.log.Info("New head", "hash", desc.Hash, "level", desc.Level, "mergeStarted", mergeStarted)

	return SetHeadResult{Changed: true, MergeStarted: mergeStarted}, nil
}

func (m *mutator) recomputeLiveWindow(oldHead coretypes.BlockDescriptor, newHead *coretypes.BlockRepr) {
	s := m.s
	capacity := int(newHead.Metadata.MaxOperationsTTL) + 1

	if oldHead.Hash == newHead.Header.Predecessor && s.live.capacityMatches(capacity) {
		ops := mapset.NewThreadUnsafeSet[coretypes.OperationHash]()
		for _, pass := range newHead.Operations {
			for _, op := range pass {
				ops.Add(op.Hash)
			}
		}
		s.live.pushIncremental(newHead.Descriptor().Hash, ops)
		return
	}

	// Rebuild: walk back capacity blocks from the new head.
	var entries []liveEntry
	cur := newHead
	for i := 0; i < capacity; i++ {
		ops := mapset.NewThreadUnsafeSet[coretypes.OperationHash]()
		for _, pass := range cur.Operations {
			for _, op := range pass {
				ops.Add(op.Hash)
			}
		}
		entries = append([]liveEntry{{hash: cur.Descriptor().Hash, ops: ops}}, entries...)
		if cur.Header.Level == 0 || cur.Header.Predecessor == cur.Descriptor().Hash {
			break
		}
		pred, err := s.store.ReadBlock(cur.Header.Predecessor, true)
		if err != nil || pred.Metadata == nil {
			break
		}
		cur = pred
	}
	s.live.rebuild(capacity, entries)
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// NewBlocks exposes the common-ancestor walk for the prevalidator's
// recycle_operations.
func (s *State) NewBlocks(fromBlock, toBlock coretypes.BlockHash) (coretypes.BlockHash, []coretypes.BlockHash, error) {
	return newBlocks(s.store, fromBlock, toBlock)
}

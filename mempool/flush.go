package mempool

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// FlushInput carries everything the chain validator already knows about a
// head switch; Flush itself never walks the chain (that is
// chainstate.State.NewBlocks's job, called by the out-of-scope chain
// validator that owns both the chain state and this prevalidator).
type FlushInput struct {
	NewHead             coretypes.BlockDescriptor
	NewPredecessor      coretypes.BlockHash
	NewLiveBlocks       mapset.Set[coretypes.BlockHash]
	NewLiveOperations   mapset.Set[coretypes.OperationHash]
	Timestamp           int64
	HandleBranchRefused bool

	// ReinjectedOperations are operations carried by blocks on the branch
	// we rolled away from, walking from the old head back to the common
	// ancestor.
	ReinjectedOperations []coretypes.Operation

	// IncludedOperationHashes are operations now on-chain along the new
	// path from the common ancestor to new_head, walking forward and
	// removing each included operation hash.
	IncludedOperationHashes map[coretypes.OperationHash]struct{}
}

// Flush recycles the mempool's pending/classified operations across a head
// switch, called by the chain validator on every head switch.
func (p *Prevalidator) Flush(in FlushInput) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Step 1.
	p.predecessor = in.NewPredecessor
	p.liveBlocks = in.NewLiveBlocks
	p.liveOps = in.NewLiveOperations
	p.timestamp = in.Timestamp

	// Step 2.
	p.store.ClearBranchDelayed()
	if in.HandleBranchRefused {
		p.store.ClearBranchRefused()
	}

	// Step 3: union applied ∪ prechecked ∪ pending ∪ (optionally)
	// branch_refused, plus reinjected operations from the abandoned
	// branch.
	candidates := make(map[coretypes.OperationHash]coretypes.Operation)
	for _, op := range p.store.AppliedOperations() {
		candidates[op.Hash] = op
	}
	for oph, op := range p.pending {
		candidates[oph] = op
	}
	for _, entry := range p.prechecked() {
		candidates[entry.Hash] = entry
	}
	if in.HandleBranchRefused {
		for _, e := range p.store.RingEntries(coretypes.BranchRefused) {
			candidates[e.Op.Hash] = e.Op
		}
	}
	for _, op := range in.ReinjectedOperations {
		candidates[op.Hash] = op
	}
	for oph := range in.IncludedOperationHashes {
		delete(candidates, oph)
	}
	for oph, op := range candidates {
		if !in.NewLiveBlocks.ContainsOne(op.Branch) {
			delete(candidates, oph)
		}
	}

	// Step 4: pre-filter the remainder into the new pending set; reset
	// applied/prechecked/unparsable. Outdated operations are never
	// reclassified here -- once outdated, always outdated.
	for _, op := range p.store.AppliedOperations() {
		p.store.RemoveApplied(op.Hash)
	}
	p.store.ClearPrechecked()
	p.store.ClearUnparsable()
	newPending := make(map[coretypes.OperationHash]coretypes.Operation, len(candidates))
	for oph, op := range candidates {
		if verdict, decided := p.applier.PreFilter(op); decided {
			p.store.InsertRing(verdict.Kind, op, verdict.Errors)
			continue
		}
		newPending[oph] = op
	}
	p.pending = newPending
}

// prechecked exposes the classification store's prechecked operations for
// recycling; a thin accessor so Flush does not reach into store internals
// directly.
func (p *Prevalidator) prechecked() []coretypes.Operation {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	out := make([]coretypes.Operation, 0, len(p.store.prechecked))
	for _, op := range p.store.prechecked {
		out = append(out, op)
	}
	return out
}

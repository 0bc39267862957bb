package chainstate

import (
	"github.com/ethereum-mive/coreshell/coretypes"
)

// ancestorAtLevel walks predecessors from `from` back to `level` (inclusive).
// Used by set_head to resolve the lafl-block on the new head's branch, and by
// isAncestorOf.
func ancestorAtLevel(src BlockSource, from coretypes.BlockHash, level int32) (*coretypes.BlockRepr, error) {
	cur := from
	for {
		b, err := src.ReadBlock(cur, true)
		if err != nil {
			return nil, err
		}
		if b.Header.Level == level {
			return b, nil
		}
		if b.Header.Level < level {
			return nil, &ErrBadHeadInvariant{Predecessor: cur}
		}
		cur = b.Header.Predecessor
	}
}

// isAncestorOf walks down from `of` to candidate's level and compares
// hashes, reporting whether candidate is an ancestor of (or equal to) of.
func isAncestorOf(src BlockSource, candidate coretypes.BlockDescriptor, of coretypes.BlockHash) (bool, error) {
	b, err := ancestorAtLevel(src, of, candidate.Level)
	if err != nil {
		return false, err
	}
	return b.Descriptor().Hash == candidate.Hash, nil
}

// newBlocks performs a symmetric predecessor walk from fromBlock and toBlock
// until the hashes match, returning the common ancestor and the path
// from the ancestor to toBlock (exclusive of the ancestor, ascending level
// order).
func newBlocks(src BlockSource, fromBlock, toBlock coretypes.BlockHash) (coretypes.BlockHash, []coretypes.BlockHash, error) {
	fromChain, err := chainToGenesisOrLimit(src, fromBlock)
	if err != nil {
		return coretypes.BlockHash{}, nil, err
	}
	toChain, err := chainToGenesisOrLimit(src, toBlock)
	if err != nil {
		return coretypes.BlockHash{}, nil, err
	}
	fromSet := make(map[coretypes.BlockHash]int, len(fromChain))
	for i, h := range fromChain {
		fromSet[h] = i
	}
	for i, h := range toChain {
		if _, ok := fromSet[h]; ok {
			// toChain[i] is the common ancestor; toChain[:i] (reversed to
			// ascending) is the path from ancestor to toBlock exclusive of
			// the ancestor.
			path := make([]coretypes.BlockHash, i)
			for j := 0; j < i; j++ {
				path[j] = toChain[i-1-j]
			}
			return h, path, nil
		}
	}
	return coretypes.BlockHash{}, nil, &ErrCorruptedChain{Reason: "no common ancestor found"}
}

// chainToGenesisOrLimit walks predecessors from hash, most-recent-first,
// stopping at genesis (predecessor == self, i.e. a block whose predecessor
// field loops) or after a generous bound to avoid runaway walks on a
// corrupted chain.
func chainToGenesisOrLimit(src BlockSource, hash coretypes.BlockHash) ([]coretypes.BlockHash, error) {
	const maxWalk = 1 << 20
	var chain []coretypes.BlockHash
	cur := hash
	for i := 0; i < maxWalk; i++ {
		chain = append(chain, cur)
		b, err := src.ReadBlock(cur, false)
		if err != nil {
			return nil, err
		}
		if b.Header.Predecessor == cur || b.Header.Level == 0 {
			break
		}
		cur = b.Header.Predecessor
	}
	return chain, nil
}

// ErrCorruptedChain reports that a predecessor walk failed to find an
// expected relationship between two blocks (e.g. no common ancestor).
type ErrCorruptedChain struct{ Reason string }

func (e *ErrCorruptedChain) Error() string { return "corrupted chain: " + e.Reason }

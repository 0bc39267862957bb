package store

import (
	"fmt"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// CannotCementReason tags why CementedStore.CementBlocks refused to touch
// on-disk state at all.
type CannotCementReason int

const (
	CannotCementEmpty CannotCementReason = iota
	CannotCementHigherCemented
	CannotCementTmpExists
)

func (r CannotCementReason) String() string {
	switch r {
	case CannotCementEmpty:
		return "empty block list"
	case CannotCementHigherCemented:
		return "first block is not the successor of the highest cemented level"
	case CannotCementTmpExists:
		return "a .tmp cycle file already exists"
	default:
		return "unknown"
	}
}

// ErrCannotCement is returned by CementBlocks before any on-disk state is
// touched.
type ErrCannotCement struct{ Reason CannotCementReason }

func (e *ErrCannotCement) Error() string { return "cannot cement: " + e.Reason.String() }

// InconsistentCementedKind enumerates the ways the on-disk cemented archive
// can be found corrupt by CheckIndexesConsistency.
type InconsistentCementedKind int

const (
	MissingCycle InconsistentCementedKind = iota
	BadOffset
	UnexpectedLevel
	CorruptedIndex
)

func (k InconsistentCementedKind) String() string {
	switch k {
	case MissingCycle:
		return "missing cycle file"
	case BadOffset:
		return "offset table entry does not locate a valid block"
	case UnexpectedLevel:
		return "decoded block level does not match its slot"
	case CorruptedIndex:
		return "hash/level index inconsistent with cycle contents"
	default:
		return "unknown"
	}
}

// ErrInconsistentCementedStore reports corruption found in the cemented
// archive.
type ErrInconsistentCementedStore struct {
	Kind   InconsistentCementedKind
	Detail string
}

func (e *ErrInconsistentCementedStore) Error() string {
	if e.Detail == "" {
		return "inconsistent cemented store: " + e.Kind.String()
	}
	return fmt.Sprintf("inconsistent cemented store: %s: %s", e.Kind, e.Detail)
}

// ErrBlockNotFound reports a read against a level/hash the store has never
// held, or no longer holds after rolling-mode GC.
type ErrBlockNotFound struct {
	Hash     coretypes.BlockHash
	Distance int
}

func (e *ErrBlockNotFound) Error() string {
	return fmt.Sprintf("block not found: %s (distance %d)", e.Hash, e.Distance)
}

// ErrBlockMetadataNotFound reports a read for metadata of a block that
// exists but was pruned (history-mode GC) or never had metadata computed.
type ErrBlockMetadataNotFound struct{ Hash coretypes.BlockHash }

func (e *ErrBlockMetadataNotFound) Error() string {
	return fmt.Sprintf("block metadata not found: %s", e.Hash)
}

// ErrCorruptedStore is a catch-all for on-disk state that fails a basic
// sanity check outside the more specific kinds above.
type ErrCorruptedStore struct{ Reason string }

func (e *ErrCorruptedStore) Error() string { return "corrupted store: " + e.Reason }

// ErrInconsistentGenesis reports that a store directory was opened against
// a genesis different from the one configured.
type ErrInconsistentGenesis struct {
	Expected, Got coretypes.BlockDescriptor
}

func (e *ErrInconsistentGenesis) Error() string {
	return fmt.Sprintf("inconsistent genesis: expected %s, got %s", e.Expected, e.Got)
}

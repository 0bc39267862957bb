// Package params holds the persistent chain configuration: genesis
// parameters and the history mode that governs how much of the chain the
// node retains.
package params

import (
	"fmt"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// Genesis is the minimal description of a chain's genesis block, enough to
// bootstrap an empty store and validate that a given store was not opened
// against the wrong network.
type Genesis struct {
	Block     coretypes.BlockDescriptor `json:"block"`
	Protocol  coretypes.ProtocolHash    `json:"protocol"`
	Timestamp int64                     `json:"timestamp"`
}

// HistoryModeKind tags which of the three retention strategies a chain runs.
type HistoryModeKind int

const (
	// Archive retains every block and every block's metadata forever;
	// TriggerGC is a no-op.
	Archive HistoryModeKind = iota
	// Full retains all block data but prunes metadata for cycles older
	// than Offset, keeping only the most recent Offset cycles' metadata.
	Full
	// Rolling additionally drops block data and purges the hash/level
	// indexes for every cemented cycle older than the most recent Offset
	// cycles.
	Rolling
)

func (k HistoryModeKind) String() string {
	switch k {
	case Archive:
		return "archive"
	case Full:
		return "full"
	case Rolling:
		return "rolling"
	default:
		return "unknown"
	}
}

// HistoryMode is ChainConfig's retention policy. Offset is meaningful only
// for Full and Rolling; nil means "use the protocol default cycle count."
type HistoryMode struct {
	Kind   HistoryModeKind `json:"kind"`
	Offset *uint16         `json:"offset,omitempty"`
}

func ArchiveMode() HistoryMode { return HistoryMode{Kind: Archive} }

func FullMode(offset *uint16) HistoryMode { return HistoryMode{Kind: Full, Offset: offset} }

func RollingMode(offset *uint16) HistoryMode { return HistoryMode{Kind: Rolling, Offset: offset} }

// CanSwitchTo reports whether switching from mode `from` to mode `to` is
// supported. The store never silently degrades retention guarantees that
// already-pruned data can't satisfy: you cannot go from Rolling or Full back
// to Archive (the data is already gone), nor from Rolling to Full. A change
// of Offset within the same kind is always accepted.
func (from HistoryMode) CanSwitchTo(to HistoryMode) error {
	if from.Kind == to.Kind {
		return nil
	}
	if to.Kind == Archive && from.Kind != Archive {
		return &ErrCannotSwitchHistoryMode{Previous: from, Next: to}
	}
	if from.Kind == Rolling && to.Kind == Full {
		return &ErrCannotSwitchHistoryMode{Previous: from, Next: to}
	}
	return nil
}

// ErrCannotSwitchHistoryMode reports a rejected history-mode transition.
type ErrCannotSwitchHistoryMode struct {
	Previous, Next HistoryMode
}

func (e *ErrCannotSwitchHistoryMode) Error() string {
	return fmt.Sprintf("cannot switch history mode from %s to %s", e.Previous.Kind, e.Next.Kind)
}

// ChainConfig is the persistent, on-disk chain configuration.
type ChainConfig struct {
	Genesis     Genesis      `json:"genesis"`
	Expiration  *int64       `json:"expiration,omitempty"` // unix seconds; nil = no expiration
	HistoryMode HistoryMode  `json:"historyMode"`
}

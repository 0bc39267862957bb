package chainstate

import (
	"fmt"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// ErrInvalidHeadSwitch reports set_head's rejection of a candidate head: its
// level is below the current checkpoint, or it otherwise conflicts with
// checkpoint/target.
type ErrInvalidHeadSwitch struct {
	CheckpointLevel int32
	GivenHead       coretypes.BlockDescriptor
}

func (e *ErrInvalidHeadSwitch) Error() string {
	return fmt.Sprintf("invalid head switch: checkpoint level %d, given head %s", e.CheckpointLevel, e.GivenHead)
}

// ErrBadHeadInvariant reports that the predecessor of a candidate head is
// not retrievable with metadata.
type ErrBadHeadInvariant struct {
	Predecessor coretypes.BlockHash
}

func (e *ErrBadHeadInvariant) Error() string {
	return fmt.Sprintf("bad head invariant: predecessor %s has no metadata", e.Predecessor)
}

// ErrTargetMismatch reports that a target is set but the candidate head is
// not a descendant of it, or is at the target's level under a different
// hash.
type ErrTargetMismatch struct {
	Target   coretypes.BlockDescriptor
	NewHead  coretypes.BlockDescriptor
}

func (e *ErrTargetMismatch) Error() string {
	return fmt.Sprintf("target mismatch: target %s not reached by new head %s", e.Target, e.NewHead)
}

// ErrCheckpointError reports an attempt to store/accept a block that would
// violate the checkpoint: its level is <= checkpoint.Level, or it conflicts
// with a set target.
type ErrCheckpointError struct {
	Level           int32
	CheckpointLevel int32
}

func (e *ErrCheckpointError) Error() string {
	return fmt.Sprintf("checkpoint error: block level %d <= checkpoint level %d", e.Level, e.CheckpointLevel)
}

// ErrMergeFailedSticky reports that a previous merge is still MergeFailed; set_head
// passes through with a log rather than retrying.
type ErrMergeFailedSticky struct{ Causes []error }

func (e *ErrMergeFailedSticky) Error() string {
	return fmt.Sprintf("merge failed (sticky), %d underlying error(s)", len(e.Causes))
}

package mempool

import (
	"fmt"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// ErrCanceled reports an operation fetch that was canceled before
// completion.
type ErrCanceled struct{ Hash coretypes.OperationHash }

func (e *ErrCanceled) Error() string { return fmt.Sprintf("operation %s: canceled", e.Hash) }

// ErrUnparsable reports an operation whose bytes could not be decoded; it
// is a terminal classification, never retried.
type ErrUnparsable struct{ Hash coretypes.OperationHash }

func (e *ErrUnparsable) Error() string { return fmt.Sprintf("operation %s: unparsable", e.Hash) }

package store

import (
	"os"
	"path/filepath"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// reconstructionLockName marks an in-progress reconstruction/snapshot
// import: while present, the store is known incomplete and must not be
// opened for normal operation.
const reconstructionLockName = "reconstruction.lock"

// CheckReconstructionPending reports whether dir carries an unfinished
// reconstruction marker.
func (bs *BlockStore) CheckReconstructionPending() bool {
	_, err := os.Stat(filepath.Join(bs.dir, reconstructionLockName))
	return err == nil
}

// ConsistencyCheck runs the startup consistency pass: the cemented index
// sanity check, then a floating-layer sanity pass verifying no floating
// block has already been cemented. Any inconsistency found is returned in
// both modes; when readOnly is false it is also logged as a warning. No
// repair is attempted in either mode.
func (bs *BlockStore) ConsistencyCheck(readOnly bool) error {
	if bs.CheckReconstructionPending() {
		return &ErrCorruptedStore{Reason: "reconstruction pending: " + reconstructionLockName + " marker present"}
	}
	if err := bs.cemented.CheckIndexesConsistency(); err != nil {
		if readOnly {
			return err
		}
		bs.log.Warn("Cemented store inconsistent, repair requires a fresh snapshot import", "err", err)
		return err
	}

	highest, ok := bs.cemented.HighestCemented()
	if !ok {
		return nil
	}

	bs.mu.RLock()
	ro, rw := bs.ro, bs.rw
	bs.mu.RUnlock()

	var bad error
	overlap := func(b *coretypes.BlockRepr, _ []coretypes.BlockHash) bool {
		if b.Header.Level <= highest {
			bad = &ErrCorruptedStore{Reason: "floating store holds an already-cemented level"}
			return false
		}
		return true
	}
	ro.IterWithPredS(overlap)
	if bad == nil {
		rw.IterWithPredS(overlap)
	}
	if bad != nil && readOnly {
		return bad
	}
	if bad != nil {
		bs.log.Warn("Floating store overlaps cemented archive", "err", bad)
		return bad
	}
	return nil
}

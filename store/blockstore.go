package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/params"
)

// CycleBoundary decides, given the cementing highwatermark and the target
// level, the successive cycle end-levels to cement up to (inclusive). It is
// protocol-defined (the ProtocolEngine knows cycle length) and is supplied
// by the caller composing a BlockStore -- the store itself never guesses
// cycle length beyond the heuristic FindBlockFile uses to pick its search
// pivot.
type CycleBoundary func(highwatermark, target int32) []int32

// Finalizer persists the new cementing_highwatermark under the chain-state
// lock once a merge completes successfully.
type Finalizer func(newHighestCemented int32) error

// BlockStore composes the cemented and floating stores into a single
// logical block view and owns the background merge between them.
type BlockStore struct {
	dir string

	cemented *CementedStore

	mu  sync.RWMutex
	ro  *FloatingStore
	rw  *FloatingStore

	lockPath string
	lock     *flock.Flock

	cycleBoundary CycleBoundary
	status        mergeStatus
	mergeGroup    singleflight.Group

	mergeDuration metrics.Timer
	log           log.Logger
}

// OpenBlockStore opens the composed store rooted at dir: cemented_blocks/
// and floating_blocks/RO,RW live directly under dir. The three underlying
// stores are opened concurrently; if any fails, the others that did open
// are closed before returning.
func OpenBlockStore(dir string, cycleBoundary CycleBoundary) (*BlockStore, error) {
	var cemented *CementedStore
	var ro, rw *FloatingStore

	g := new(errgroup.Group)
	g.Go(func() (err error) {
		cemented, err = OpenCementedStore(filepath.Join(dir, "cemented_blocks"))
		return err
	})
	g.Go(func() (err error) {
		ro, err = OpenFloatingStore(filepath.Join(dir, "floating_blocks", "RO", "blocks"))
		return err
	})
	g.Go(func() (err error) {
		rw, err = OpenFloatingStore(filepath.Join(dir, "floating_blocks", "RW", "blocks"))
		return err
	})
	if err := g.Wait(); err != nil {
		if cemented != nil {
			cemented.Close()
		}
		if ro != nil {
			ro.Close()
		}
		if rw != nil {
			rw.Close()
		}
		return nil, err
	}
	lockPath := filepath.Join(dir, "lock")
	bs := &BlockStore{
		dir:           dir,
		cemented:      cemented,
		ro:            ro,
		rw:            rw,
		lockPath:      lockPath,
		lock:          flock.New(lockPath),
		cycleBoundary: cycleBoundary,
		mergeDuration: metrics.NewRegisteredTimer("store/merge/duration", nil),
		log:           log.New("module", "block-store"),
	}
	return bs, nil
}

// Mem reports whether a block is known anywhere in the store (either
// floating instance, or cemented by hash).
func (bs *BlockStore) Mem(hash coretypes.BlockHash) bool {
	bs.mu.RLock()
	ro, rw := bs.ro, bs.rw
	bs.mu.RUnlock()
	if rw.Mem(hash) || ro.Mem(hash) {
		return true
	}
	_, ok := bs.cemented.LevelOfHash(hash)
	return ok
}

// GetHash returns hash and true when Mem reports the block as known
// anywhere in the store, and the zero hash and false otherwise.
func (bs *BlockStore) GetHash(hash coretypes.BlockHash) (coretypes.BlockHash, bool) {
	if bs.Mem(hash) {
		return hash, true
	}
	return coretypes.BlockHash{}, false
}

// ReadBlock reads a block by hash, optionally attaching its metadata when it
// lives in the cemented archive (floating-store blocks always carry their
// metadata in-record).
func (bs *BlockStore) ReadBlock(hash coretypes.BlockHash, readMetadata bool) (*coretypes.BlockRepr, error) {
	bs.mu.RLock()
	ro, rw := bs.ro, bs.rw
	bs.mu.RUnlock()

	if b := rw.ReadBlockOpt(hash); b != nil {
		return b, nil
	}
	if b := ro.ReadBlockOpt(hash); b != nil {
		return b, nil
	}
	block, err := bs.cemented.GetCementedBlockByHash(hash, readMetadata)
	if err != nil {
		return nil, err
	}
	return block, nil
}

// StoreBlock appends a freshly validated block to the accumulating RW
// floating instance. predecessors is the predecessor chain to persist
// alongside it for fast locator walks.
func (bs *BlockStore) StoreBlock(b *coretypes.BlockRepr, predecessors []coretypes.BlockHash) error {
	bs.mu.RLock()
	rw := bs.rw
	bs.mu.RUnlock()
	return rw.AppendBlock(b, predecessors)
}

// GetMergeStatus reports the current merge status and, if MergeFailed, the
// errors that caused it.
func (bs *BlockStore) GetMergeStatus() (MergeStatusKind, []error) {
	return bs.status.get()
}

// MergeStores runs the background merge that promotes accumulated floating
// blocks into the cemented archive. It is meant to be invoked from a
// goroutine spawned by ChainState.SetHead once should_merge holds;
// finalizer is called with the new highest-cemented level on success.
//
// Steps:
//  1. swap RW -> RO, create a fresh empty RW
//  2. walk RO predecessors from cementingHighwatermark+1 up to target
//  3. cement successive cycles per cycleBoundary
//  4. run history-mode GC
//  5. rewrite RO to drop newly-cemented blocks
//  6. atomically swap RO_TMP -> RO
//
// try_lock_for_write semantics: if the advisory lock can't be acquired
// immediately, the merge is postponed (returns errMergePostponed) rather
// than blocking, matching "if the lock is unavailable the merge is
// postponed but state updates proceed."
//
// Concurrent callers (SetHead can spawn a merge goroutine on every head
// switch, and the previous one may still be running) share a single
// in-flight attempt through mergeGroup rather than racing each other.
func (bs *BlockStore) MergeStores(cementingHighwatermark, target int32, headHash coretypes.BlockHash, historyMode params.HistoryMode, onError func(error), finalizer Finalizer) error {
	_, err, _ := bs.mergeGroup.Do("merge", func() (interface{}, error) {
		return nil, bs.mergeOnce(cementingHighwatermark, target, headHash, historyMode, onError, finalizer)
	})
	return err
}

func (bs *BlockStore) mergeOnce(cementingHighwatermark, target int32, headHash coretypes.BlockHash, historyMode params.HistoryMode, onError func(error), finalizer Finalizer) error {
	if !bs.status.tryStart() {
		return errMergeAlreadyRunning
	}

	locked, err := bs.lock.TryLock()
	if err != nil {
		bs.status.succeed() // did not actually start; release the Running marker
		return fmt.Errorf("acquiring merge lock: %w", err)
	}
	if !locked {
		bs.status.succeed()
		return errMergePostponed
	}
	defer bs.lock.Unlock()

	start := time.Now()
	defer func() { bs.mergeDuration.UpdateSince(start) }()

	newHighest, err := bs.doMerge(cementingHighwatermark, target, headHash, historyMode)
	if err != nil {
		bs.status.fail(err)
		if onError != nil {
			onError(err)
		}
		bs.log.Error("Merge failed", "err", err)
		return err
	}
	bs.status.succeed()
	if finalizer != nil {
		if err := finalizer(newHighest); err != nil {
			bs.status.fail(err)
			return err
		}
	}
	bs.log.Info("Merge completed", "highestCemented", newHighest)
	return nil
}

func (bs *BlockStore) doMerge(cementingHighwatermark, target int32, headHash coretypes.BlockHash, historyMode params.HistoryMode) (int32, error) {
	// Step 1: swap RW -> RO, fresh empty RW.
	bs.mu.Lock()
	oldRO := bs.ro
	newROPath := bs.ro.Path() // RO keeps its path; RW becomes the new RO contents via rewrite below
	oldRW := bs.rw
	freshRW, err := OpenFloatingStore(filepath.Join(filepath.Dir(oldRW.Path()), "blocks.tmp"))
	if err != nil {
		bs.mu.Unlock()
		return 0, err
	}
	bs.rw = freshRW
	bs.mu.Unlock()

	// Step 2: compute the ancestor chain cementingHighwatermark+1..target by
	// walking the old RW's (now logically RO) predecessor chains, starting
	// from headHash.
	chain, err := ancestorChain(oldRW, oldRO, headHash, cementingHighwatermark+1, target)
	if err != nil {
		bs.restoreAfterFailedMerge(oldRO, oldRW, freshRW)
		return 0, err
	}

	// Step 3: cement successive cycles.
	boundaries := bs.cycleBoundary(cementingHighwatermark, target)
	newHighest := cementingHighwatermark
	idx := 0
	for _, end := range boundaries {
		var batch []*coretypes.BlockRepr
		for idx < len(chain) && chain[idx].Header.Level <= end {
			batch = append(batch, chain[idx])
			idx++
		}
		if len(batch) == 0 {
			continue
		}
		if err := bs.cemented.CementBlocks(batch, true, true); err != nil {
			bs.restoreAfterFailedMerge(oldRO, oldRW, freshRW)
			return 0, err
		}
		newHighest = batch[len(batch)-1].Header.Level
	}
	// Cement any remainder not aligned to a declared boundary.
	if idx < len(chain) {
		remainder := chain[idx:]
		if err := bs.cemented.CementBlocks(remainder, true, true); err != nil {
			bs.restoreAfterFailedMerge(oldRO, oldRW, freshRW)
			return 0, err
		}
		newHighest = remainder[len(remainder)-1].Header.Level
	}

	// Step 4: history-mode GC.
	if err := bs.applyHistoryModeGC(historyMode); err != nil {
		bs.restoreAfterFailedMerge(oldRO, oldRW, freshRW)
		return 0, err
	}

	// Step 5+6: rewrite RO to drop cemented blocks, then atomically swap
	// RO_TMP -> RO.
	roTmpPath := newROPath + ".tmp"
	roTmp, err := OpenFloatingStore(roTmpPath)
	if err != nil {
		bs.restoreAfterFailedMerge(oldRO, oldRW, freshRW)
		return 0, err
	}
	oldRO.IterWithPredS(func(b *coretypes.BlockRepr, preds []coretypes.BlockHash) bool {
		if b.Header.Level > newHighest {
			roTmp.AppendBlock(b, preds)
		}
		return true
	})
	oldRW.IterWithPredS(func(b *coretypes.BlockRepr, preds []coretypes.BlockHash) bool {
		if b.Header.Level > newHighest {
			roTmp.AppendBlock(b, preds)
		}
		return true
	})
	roTmp.Close()
	oldRO.Close()
	oldRW.Close()
	if err := os.Rename(roTmpPath, newROPath); err != nil {
		return 0, err
	}
	newRO, err := OpenFloatingStore(newROPath)
	if err != nil {
		return 0, err
	}
	finalRWPath := oldRW.Path()
	freshRW.Close()
	if err := os.Rename(freshRW.Path(), finalRWPath); err != nil {
		return 0, err
	}
	reopenedRW, err := OpenFloatingStore(finalRWPath)
	if err != nil {
		return 0, err
	}

	bs.mu.Lock()
	bs.ro = newRO
	bs.rw = reopenedRW
	bs.mu.Unlock()

	return newHighest, nil
}

func (bs *BlockStore) restoreAfterFailedMerge(oldRO, oldRW, freshRW *FloatingStore) {
	bs.mu.Lock()
	bs.ro = oldRO
	bs.rw = oldRW
	bs.mu.Unlock()
	freshRW.Close()
	os.Remove(freshRW.Path())
}

func (bs *BlockStore) applyHistoryModeGC(mode params.HistoryMode) error {
	switch mode.Kind {
	case params.Archive:
		return bs.cemented.TriggerArchiveGC()
	case params.Full:
		return bs.cemented.TriggerFullGC(keepCycles(mode.Offset))
	case params.Rolling:
		keep := keepCycles(mode.Offset)
		// Purge every cycle older than the most recent keep cycles: the purge
		// level is the end of the newest cycle that is not kept.
		bs.cemented.mu.RLock()
		n := len(bs.cemented.ranges)
		var purgeTo int32
		if n > keep {
			purgeTo = bs.cemented.ranges[n-keep-1].EndLevel
		}
		bs.cemented.mu.RUnlock()
		if n <= keep {
			return nil
		}
		return bs.cemented.TriggerRollingGC(keep, purgeTo)
	default:
		return fmt.Errorf("unknown history mode %v", mode.Kind)
	}
}

func keepCycles(offset *uint16) int {
	if offset == nil {
		return defaultKeepCycles
	}
	return int(*offset)
}

const defaultKeepCycles = 5

// ancestorChain walks RW then RO's stored predecessor chains starting from
// headHash, collecting blocks with fromLevel <= level <= toLevel in
// ascending level order.
func ancestorChain(rw, ro *FloatingStore, headHash coretypes.BlockHash, fromLevel, toLevel int32) ([]*coretypes.BlockRepr, error) {
	var collected []*coretypes.BlockRepr
	cur := headHash
	seen := make(map[coretypes.BlockHash]bool)
	for {
		if seen[cur] {
			return nil, &ErrCorruptedStore{Reason: "predecessor cycle detected while walking floating store"}
		}
		seen[cur] = true
		b := rw.ReadBlockOpt(cur)
		if b == nil {
			b = ro.ReadBlockOpt(cur)
		}
		if b == nil {
			break
		}
		if b.Header.Level <= toLevel && b.Header.Level >= fromLevel {
			collected = append([]*coretypes.BlockRepr{b}, collected...)
		}
		if b.Header.Level <= fromLevel {
			break
		}
		cur = b.Header.Predecessor
	}
	return collected, nil
}

// Close closes every underlying store.
func (bs *BlockStore) Close() error {
	bs.mu.RLock()
	ro, rw := bs.ro, bs.rw
	bs.mu.RUnlock()
	ro.Close()
	rw.Close()
	return bs.cemented.Close()
}

var (
	errMergePostponed      = fmt.Errorf("merge postponed: write lock unavailable")
	errMergeAlreadyRunning = fmt.Errorf("merge already running")
)

// Package chainstate implements the persistent, shared mutable chain-level
// record: current_head, alternate_heads, checkpoint, target,
// cementing_highwatermark, savepoint, caboose, invalid_blocks,
// protocol_levels, and the derived live-blocks/live-operations window.
package chainstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/params"
	"github.com/ethereum-mive/coreshell/store"
)

// BlockSource is the subset of store.BlockStore the chain state depends on.
// Declared narrowly so tests can substitute a fake without dragging in a
// real on-disk BlockStore; *store.BlockStore satisfies it structurally.
type BlockSource interface {
	ReadBlock(hash coretypes.BlockHash, readMetadata bool) (*coretypes.BlockRepr, error)
	StoreBlock(b *coretypes.BlockRepr, predecessors []coretypes.BlockHash) error
	MergeStores(cementingHighwatermark, target int32, headHash coretypes.BlockHash, historyMode params.HistoryMode, onError func(error), finalizer store.Finalizer) error
	GetMergeStatus() (store.MergeStatusKind, []error)
}

// InvalidBlockEntry records why a block was rejected.
type InvalidBlockEntry struct {
	Level  int32                     `json:"level"`
	Errors []coretypes.OperationError `json:"errors"`
}

// persistent is the JSON-serializable shape of every named data cell. It is
// kept as a single struct for convenience when snapshotting the whole state
// atomically for readers (see State.Use), even though each field is
// written to its own on-disk cell.
type persistent struct {
	ChainConfig            params.ChainConfig                         `json:"-"`
	CurrentHead            coretypes.BlockDescriptor                  `json:"currentHead"`
	AlternateHeads         []coretypes.BlockDescriptor                `json:"alternateHeads"`
	Checkpoint             coretypes.BlockDescriptor                  `json:"checkpoint"`
	CementingHighwatermark *int32                                     `json:"cementingHighwatermark"`
	Target                 *coretypes.BlockDescriptor                 `json:"target"`
	Savepoint              coretypes.BlockDescriptor                  `json:"savepoint"`
	Caboose                coretypes.BlockDescriptor                  `json:"caboose"`
	ProtocolLevels         map[uint8]coretypes.ProtocolLevelEntry     `json:"protocolLevels"`
	InvalidBlocks          map[coretypes.BlockHash]InvalidBlockEntry  `json:"invalidBlocks"`
	ForkedChains           map[string]coretypes.BlockHash             `json:"forkedChains"`
}

// State is one chain's persistent state. Open creates a flock handle on the
// chain's lock file, but nothing takes that lock: access is serialised only
// within this process, by the sync.RWMutex below. Readers call Use
// (freely ordered against each other); mutators call UpdateWith, which
// takes the exclusive write lock for the duration of the callback. Calling
// Use or UpdateWith recursively from inside an UpdateWith callback on the
// same goroutine deadlocks on the underlying sync.RWMutex -- this is
// intentional: nested entry is forbidden, and a plain RWMutex enforces it
// without a bespoke reentrancy counter.
type State struct {
	dir   string
	store BlockSource

	mu sync.RWMutex
	p  persistent

	live *liveWindow

	lockPath string
	lock     *flock.Flock

	isTestchain bool // routes the lafl-clamping branch in SetHead

	log log.Logger
}

const defaultLiveWindowCapacity = 1 // replaced by the first head's max_operations_ttl+1

// Open loads (or initializes, if absent) the chain state rooted at dir.
func Open(dir string, src BlockSource, cfg params.ChainConfig, genesis *coretypes.BlockRepr, isTestchain bool) (*State, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &State{
		dir:         dir,
		store:       src,
		live:        newLiveWindow(defaultLiveWindowCapacity),
		lockPath:    filepath.Join(dir, "lock"),
		isTestchain: isTestchain,
		log:         log.New("module", "chain-state"),
	}
	s.lock = flock.New(s.lockPath)
	s.p.ChainConfig = cfg

	found, err := readCell(cellPath(dir, "current_head"), &s.p.CurrentHead)
	if err != nil {
		return nil, err
	}
	if !found {
		desc := genesis.Descriptor()
		s.p.CurrentHead = desc
		s.p.Checkpoint = desc
		s.p.Savepoint = desc
		s.p.Caboose = desc
		s.p.ProtocolLevels = map[uint8]coretypes.ProtocolLevelEntry{}
		s.p.InvalidBlocks = map[coretypes.BlockHash]InvalidBlockEntry{}
		s.p.ForkedChains = map[string]coretypes.BlockHash{}
		if err := s.persistAll(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if _, err := readCell(cellPath(dir, "alternate_heads"), &s.p.AlternateHeads); err != nil {
		return nil, err
	}
	if _, err := readCell(cellPath(dir, "checkpoint"), &s.p.Checkpoint); err != nil {
		return nil, err
	}
	if _, err := readCell(cellPath(dir, "cementing_highwatermark"), &s.p.CementingHighwatermark); err != nil {
		return nil, err
	}
	if _, err := readCell(cellPath(dir, "target"), &s.p.Target); err != nil {
		return nil, err
	}
	if _, err := readCell(cellPath(dir, "savepoint"), &s.p.Savepoint); err != nil {
		return nil, err
	}
	if _, err := readCell(cellPath(dir, "caboose"), &s.p.Caboose); err != nil {
		return nil, err
	}
	s.p.ProtocolLevels = map[uint8]coretypes.ProtocolLevelEntry{}
	readCell(cellPath(dir, "protocol_levels"), &s.p.ProtocolLevels)
	s.p.InvalidBlocks = map[coretypes.BlockHash]InvalidBlockEntry{}
	readCell(cellPath(dir, "invalid_blocks"), &s.p.InvalidBlocks)
	s.p.ForkedChains = map[string]coretypes.BlockHash{}
	readCell(cellPath(dir, "forked_chains"), &s.p.ForkedChains)

	return s, nil
}

func (s *State) persistAll() error {
	for _, c := range []struct {
		name string
		v    interface{}
	}{
		{"checkpoint", &s.p.Checkpoint},
		{"current_head", &s.p.CurrentHead},
		{"alternate_heads", &s.p.AlternateHeads},
		{"target", s.p.Target},
		{"cementing_highwatermark", s.p.CementingHighwatermark},
		{"savepoint", &s.p.Savepoint},
		{"caboose", &s.p.Caboose},
		{"protocol_levels", s.p.ProtocolLevels},
		{"invalid_blocks", s.p.InvalidBlocks},
		{"forked_chains", s.p.ForkedChains},
	} {
		if err := writeCellAtomic(cellPath(s.dir, c.name), c.v); err != nil {
			return fmt.Errorf("persisting %s: %w", c.name, err)
		}
	}
	return nil
}

// Use runs f against a read-only snapshot of the state, serialised only
// against writers -- readers are ordered freely against each other.
func (s *State) Use(f func(Snapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f(s.snapshot())
}

// UpdateWith runs f with the exclusive writer section held, exactly as
// set_head's contract requires: every check and mutation happens inside
// the chain-state's exclusive section. f receives a *mutator bound to this
// State.
func (s *State) UpdateWith(f func(*mutator) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(&mutator{s: s})
}

// Snapshot is an immutable, point-in-time view of the persistent fields,
// handed to Use callbacks so they never observe a torn write: a successful
// set_head is linearisable.
type Snapshot struct {
	CurrentHead            coretypes.BlockDescriptor
	AlternateHeads         []coretypes.BlockDescriptor
	Checkpoint             coretypes.BlockDescriptor
	CementingHighwatermark *int32
	Target                 *coretypes.BlockDescriptor
	Savepoint              coretypes.BlockDescriptor
	Caboose                coretypes.BlockDescriptor
	LiveBlocks             mapset.Set[coretypes.BlockHash]
	LiveOperations         mapset.Set[coretypes.OperationHash]
}

func (s *State) snapshot() Snapshot {
	liveBlocks, liveOps := s.live.liveBlocksAndOperations()
	return Snapshot{
		CurrentHead:            s.p.CurrentHead,
		AlternateHeads:         append([]coretypes.BlockDescriptor(nil), s.p.AlternateHeads...),
		Checkpoint:             s.p.Checkpoint,
		CementingHighwatermark: s.p.CementingHighwatermark,
		Target:                 s.p.Target,
		Savepoint:              s.p.Savepoint,
		Caboose:                s.p.Caboose,
		LiveBlocks:             liveBlocks,
		LiveOperations:         liveOps,
	}
}

// IsAcceptableBlock reports whether (h, l) could become a head: its level
// must exceed the checkpoint, and if a target is set at the same level it
// must match the target's hash.
func (s *State) IsAcceptableBlock(h coretypes.BlockHash, l int32) bool {
	var ok bool
	s.Use(func(snap Snapshot) {
		ok = isAcceptableBlock(snap, h, l)
	})
	return ok
}

func isAcceptableBlock(snap Snapshot, h coretypes.BlockHash, l int32) bool {
	if l <= snap.Checkpoint.Level {
		return false
	}
	if snap.Target != nil && l == snap.Target.Level && h != snap.Target.Hash {
		return false
	}
	return true
}

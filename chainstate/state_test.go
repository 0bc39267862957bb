package chainstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/params"
	"github.com/ethereum-mive/coreshell/store"
)

// fakeBlockSource is a minimal in-memory BlockSource for driving SetHead
// without a real on-disk store; MergeStores records its call rather than
// performing any actual cementing, since set_head only needs to know that a
// merge was spawned.
type fakeBlockSource struct {
	blocks  map[coretypes.BlockHash]*coretypes.BlockRepr
	merges  int
	status  store.MergeStatusKind
}

func newFakeBlockSource() *fakeBlockSource {
	return &fakeBlockSource{blocks: make(map[coretypes.BlockHash]*coretypes.BlockRepr)}
}

func (f *fakeBlockSource) ReadBlock(hash coretypes.BlockHash, readMetadata bool) (*coretypes.BlockRepr, error) {
	b, ok := f.blocks[hash]
	if !ok {
		return nil, &store.ErrBlockNotFound{Hash: hash}
	}
	return b, nil
}

func (f *fakeBlockSource) StoreBlock(b *coretypes.BlockRepr, predecessors []coretypes.BlockHash) error {
	f.blocks[b.Descriptor().Hash] = b
	return nil
}

func (f *fakeBlockSource) MergeStores(cementingHighwatermark, target int32, headHash coretypes.BlockHash, historyMode params.HistoryMode, onError func(error), finalizer store.Finalizer) error {
	f.merges++
	if finalizer != nil {
		return finalizer(target)
	}
	return nil
}

func (f *fakeBlockSource) GetMergeStatus() (store.MergeStatusKind, []error) {
	return f.status, nil
}

func block(level int32, pred coretypes.BlockHash, lafl int32) *coretypes.BlockRepr {
	h := coretypes.BlockHeader{
		Level:            level,
		Predecessor:      pred,
		ValidationPasses: 1,
	}
	hash := h.Hash()
	return &coretypes.BlockRepr{
		Hash:       &hash,
		Header:     h,
		Operations: [][]coretypes.Operation{nil},
		Metadata:   &coretypes.BlockMetadata{LastAllowedForkLevel: lafl, MaxOperationsTTL: 0},
	}
}

func openTestState(t *testing.T, src *fakeBlockSource, genesis *coretypes.BlockRepr) *State {
	t.Helper()
	src.blocks[genesis.Descriptor().Hash] = genesis
	s, err := Open(t.TempDir(), src, params.ChainConfig{HistoryMode: params.FullMode(nil)}, genesis, false)
	require.NoError(t, err)
	return s
}

func TestSetHeadSimpleExtension(t *testing.T) {
	src := newFakeBlockSource()
	genesis := block(0, coretypes.BlockHash{}, 0)
	s := openTestState(t, src, genesis)

	b1 := block(1, genesis.Descriptor().Hash, 0)
	src.blocks[b1.Descriptor().Hash] = b1

	var result SetHeadResult
	err := s.UpdateWith(func(m *mutator) error {
		r, err := m.SetHead(b1)
		result = r
		return err
	})
	require.NoError(t, err)
	require.True(t, result.Changed)

	s.Use(func(snap Snapshot) {
		require.Equal(t, b1.Descriptor(), snap.CurrentHead)
	})
}

func TestSetHeadBenignRaceIsNoOp(t *testing.T) {
	src := newFakeBlockSource()
	genesis := block(0, coretypes.BlockHash{}, 0)
	s := openTestState(t, src, genesis)

	b1 := block(1, genesis.Descriptor().Hash, 0)
	src.blocks[b1.Descriptor().Hash] = b1
	require.NoError(t, s.UpdateWith(func(m *mutator) error {
		_, err := m.SetHead(b1)
		return err
	}))

	// Calling set_head again with the same head is a benign no-op (step 3).
	var result SetHeadResult
	err := s.UpdateWith(func(m *mutator) error {
		r, err := m.SetHead(b1)
		result = r
		return err
	})
	require.NoError(t, err)
	require.False(t, result.Changed)
}

func TestSetHeadRejectsCompetingBlockAtOrBelowNewCheckpoint(t *testing.T) {
	src := newFakeBlockSource()
	genesis := block(0, coretypes.BlockHash{}, 0)
	s := openTestState(t, src, genesis)

	// b1's lafl (1) advances the checkpoint to b1 itself (level 1) once
	// applied, per step 8's may_update_checkpoint_and_target.
	b1 := block(1, genesis.Descriptor().Hash, 1)
	src.blocks[b1.Descriptor().Hash] = b1
	require.NoError(t, s.UpdateWith(func(m *mutator) error {
		_, err := m.SetHead(b1)
		return err
	}))

	s.Use(func(snap Snapshot) {
		require.Equal(t, int32(1), snap.Checkpoint.Level)
	})

	// A competing block at the same level, on a different branch, is now
	// at-or-below the checkpoint and must be rejected (step 2).
	stale := block(1, genesis.Descriptor().Hash, 0)
	stale.Header.Timestamp = 999 // distinct hash from b1
	src.blocks[stale.Descriptor().Hash] = stale

	err := s.UpdateWith(func(m *mutator) error {
		_, err := m.SetHead(stale)
		return err
	})
	require.IsType(t, &ErrInvalidHeadSwitch{}, err)
}

func TestSetHeadTriggersMergeWhenLaflExceedsHighwatermark(t *testing.T) {
	src := newFakeBlockSource()
	genesis := block(0, coretypes.BlockHash{}, 0)
	s := openTestState(t, src, genesis)

	// Establish a known highwatermark below the next head's lafl so step 9's
	// should_merge decision is exercised deterministically, rather than
	// relying on step 6's bootstrap (which sets highwatermark == lafl on
	// the very first head and never merges on that transition alone).
	hw := int32(0)
	s.p.CementingHighwatermark = &hw

	b1 := block(1, genesis.Descriptor().Hash, 1)
	src.blocks[b1.Descriptor().Hash] = b1

	var result SetHeadResult
	err := s.UpdateWith(func(m *mutator) error {
		r, err := m.SetHead(b1)
		result = r
		return err
	})
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.True(t, result.MergeStarted)
}

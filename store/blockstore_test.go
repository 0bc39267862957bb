package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
)

func makeBlock(level int32, pred coretypes.BlockHash) *coretypes.BlockRepr {
	h := coretypes.BlockHeader{
		Level:            level,
		ValidationPasses: 1,
		Predecessor:      pred,
		Timestamp:        int64(level) * 60,
	}
	hash := h.Hash()
	return &coretypes.BlockRepr{
		Hash:       &hash,
		Header:     h,
		Operations: [][]coretypes.Operation{nil},
		Metadata:   &coretypes.BlockMetadata{LastAllowedForkLevel: 0},
	}
}

func TestBlockStoreStoreAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bs, err := OpenBlockStore(dir, func(hw, target int32) []int32 { return nil })
	require.NoError(t, err)
	defer bs.Close()

	genesis := makeBlock(0, coretypes.BlockHash{})
	b1 := makeBlock(1, genesis.Descriptor().Hash)
	b2 := makeBlock(2, b1.Descriptor().Hash)

	require.NoError(t, bs.StoreBlock(genesis, nil))
	require.NoError(t, bs.StoreBlock(b1, []coretypes.BlockHash{genesis.Descriptor().Hash}))
	require.NoError(t, bs.StoreBlock(b2, []coretypes.BlockHash{b1.Descriptor().Hash, genesis.Descriptor().Hash}))

	require.True(t, bs.Mem(b2.Descriptor().Hash))

	got, err := bs.ReadBlock(b1.Descriptor().Hash, false)
	require.NoError(t, err)
	require.Equal(t, b1.Header.Level, got.Header.Level)
}

func TestCementedStoreCementAndReadBack(t *testing.T) {
	dir := t.TempDir()
	cs, err := OpenCementedStore(dir)
	require.NoError(t, err)
	defer cs.Close()

	genesis := makeBlock(0, coretypes.BlockHash{})
	b1 := makeBlock(1, genesis.Descriptor().Hash)
	b2 := makeBlock(2, b1.Descriptor().Hash)
	blocks := []*coretypes.BlockRepr{genesis, b1, b2}

	require.NoError(t, cs.CementBlocks(blocks, true, true))

	highest, ok := cs.HighestCemented()
	require.True(t, ok)
	require.Equal(t, int32(2), highest)

	back, err := cs.GetCementedBlockByLevel(1, true)
	require.NoError(t, err)
	require.Equal(t, b1.Descriptor().Hash, back.Descriptor().Hash)
	require.NotNil(t, back.Metadata)

	lvl, ok := cs.LevelOfHash(b2.Descriptor().Hash)
	require.True(t, ok)
	require.Equal(t, int32(2), lvl)

	require.NoError(t, cs.CheckIndexesConsistency())
}

func TestCementedStoreRejectsNonContiguousCement(t *testing.T) {
	dir := t.TempDir()
	cs, err := OpenCementedStore(dir)
	require.NoError(t, err)
	defer cs.Close()

	genesis := makeBlock(0, coretypes.BlockHash{})
	require.NoError(t, cs.CementBlocks([]*coretypes.BlockRepr{genesis}, true, true))

	gap := makeBlock(5, genesis.Descriptor().Hash)
	err = cs.CementBlocks([]*coretypes.BlockRepr{gap}, true, true)
	require.Error(t, err)
}

package coretypes

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func sampleHeader() BlockHeader {
	return BlockHeader{
		Level:            42,
		ProtoLevel:       1,
		Predecessor:      BlockHash{0x01},
		Timestamp:        1_700_000_000,
		ValidationPasses: 4,
		OperationsHash:   OperationsHash{0x02},
		Fitness:          [][]byte{{0x00}, {0x01, 0x02}},
		Context:          ContextHash{0x03},
		ProtocolData:     []byte{0xde, 0xad},
	}
}

func TestBlockHeaderRLPRoundTrip(t *testing.T) {
	h := sampleHeader()

	var buf bytes.Buffer
	require.NoError(t, rlp.Encode(&buf, &h))

	var got BlockHeader
	require.NoError(t, rlp.Decode(&buf, &got))

	require.Equal(t, h.Level, got.Level)
	require.Equal(t, h.ProtoLevel, got.ProtoLevel)
	require.Equal(t, h.Predecessor, got.Predecessor)
	require.Equal(t, h.Timestamp, got.Timestamp)
	require.Equal(t, h.ValidationPasses, got.ValidationPasses)
	require.Equal(t, h.OperationsHash, got.OperationsHash)
	require.Equal(t, h.Fitness, got.Fitness)
	require.Equal(t, h.Context, got.Context)
	// ProtocolData is excluded from the RLP preimage by design.
	require.Empty(t, got.ProtocolData)
}

func TestBlockHeaderHashExcludesProtocolData(t *testing.T) {
	h1 := sampleHeader()
	h2 := sampleHeader()
	h2.ProtocolData = []byte{0x01, 0x02, 0x03, 0x04}

	require.Equal(t, h1.Hash(), h2.Hash())
}

func TestBlockHeaderHashChangesWithLevel(t *testing.T) {
	h1 := sampleHeader()
	h2 := sampleHeader()
	h2.Level = 43

	require.NotEqual(t, h1.Hash(), h2.Hash())
}

func TestBlockHeaderHashIsCached(t *testing.T) {
	h := sampleHeader()
	first := h.Hash()
	// Mutate without going through DecodeRLP; the cache should still hold
	// (this mirrors the documented caching contract, not a recomputation).
	h.Level = 999
	require.Equal(t, first, h.Hash())
}

func TestBlockReprDescriptorUsesCachedHashWhenPresent(t *testing.T) {
	h := sampleHeader()
	cached := BlockHash{0xff}
	b := &BlockRepr{
		Hash:       &cached,
		Header:     h,
		Operations: make([][]Operation, h.ValidationPasses),
	}
	require.Equal(t, cached, b.Descriptor().Hash)
	require.Equal(t, h.Level, b.Descriptor().Level)
}

func TestBlockReprDescriptorComputesHashWhenAbsent(t *testing.T) {
	h := sampleHeader()
	b := &BlockRepr{
		Header:     h,
		Operations: make([][]Operation, h.ValidationPasses),
	}
	require.Equal(t, h.Hash(), b.Descriptor().Hash)
}

func TestBlockReprValidateRejectsShapeMismatch(t *testing.T) {
	h := sampleHeader()
	b := &BlockRepr{
		Header:     h,
		Operations: make([][]Operation, h.ValidationPasses-1),
	}
	require.Error(t, b.Validate())
}

func TestBlockReprValidateAcceptsMatchingShape(t *testing.T) {
	h := sampleHeader()
	b := &BlockRepr{
		Header:     h,
		Operations: make([][]Operation, h.ValidationPasses),
	}
	require.NoError(t, b.Validate())
}

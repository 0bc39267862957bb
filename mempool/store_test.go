package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
)

func op(n byte) coretypes.Operation {
	return coretypes.Operation{Hash: coretypes.OperationHash{n}, Data: []byte{n}}
}

func TestClassificationStoreDisjointness(t *testing.T) {
	var discarded []coretypes.OperationHash
	s := NewClassificationStore(4, func(oph coretypes.OperationHash, _ RingEntry) {
		discarded = append(discarded, oph)
	})

	a, b, c := op(1), op(2), op(3)
	s.InsertApplied(a)
	s.InsertPrechecked(b)
	s.InsertRing(coretypes.Refused, c, nil)

	kind, ok := s.Kind(a.Hash)
	require.True(t, ok)
	require.Equal(t, coretypes.Applied, kind)

	kind, ok = s.Kind(b.Hash)
	require.True(t, ok)
	require.Equal(t, coretypes.Prechecked, kind)

	kind, ok = s.Kind(c.Hash)
	require.True(t, ok)
	require.Equal(t, coretypes.Refused, kind)

	require.True(t, s.IsHandled(a.Hash))
	require.True(t, s.IsHandled(b.Hash))
	require.True(t, s.IsHandled(c.Hash))

	// Re-inserting c into a different ring must move it, not duplicate it.
	s.InsertRing(coretypes.BranchDelayed, c, nil)
	kind, ok = s.Kind(c.Hash)
	require.True(t, ok)
	require.Equal(t, coretypes.BranchDelayed, kind)
}

func TestClassificationStoreRingEvictionFiresDiscardAndClearsInMempool(t *testing.T) {
	var discarded []coretypes.OperationHash
	s := NewClassificationStore(2, func(oph coretypes.OperationHash, _ RingEntry) {
		discarded = append(discarded, oph)
	})

	first, second, third := op(1), op(2), op(3)
	s.InsertRing(coretypes.Refused, first, nil)
	s.InsertRing(coretypes.Refused, second, nil)
	s.InsertRing(coretypes.Refused, third, nil) // evicts first (capacity 2)

	require.Equal(t, []coretypes.OperationHash{first.Hash}, discarded)
	require.False(t, s.IsHandled(first.Hash))
	require.True(t, s.IsHandled(second.Hash))
	require.True(t, s.IsHandled(third.Hash))
}

func TestClassificationStoreRemoveAppliedReportsPresence(t *testing.T) {
	s := NewClassificationStore(4, nil)
	a := op(1)
	require.False(t, s.RemoveApplied(a.Hash))

	s.InsertApplied(a)
	require.True(t, s.RemoveApplied(a.Hash))
	require.False(t, s.IsHandled(a.Hash))
}

func TestClassificationStoreAppliedOperationsMostRecentFirst(t *testing.T) {
	s := NewClassificationStore(4, nil)
	a, b, c := op(1), op(2), op(3)
	s.InsertApplied(a)
	s.InsertApplied(b)
	s.InsertApplied(c)

	got := s.AppliedOperations()
	require.Equal(t, []coretypes.Operation{c, b, a}, got)
}

func TestClassificationStoreBanAndUnban(t *testing.T) {
	s := NewClassificationStore(4, nil)
	a := op(1)
	require.False(t, s.IsBanned(a.Hash))
	s.Ban(a.Hash)
	require.True(t, s.IsBanned(a.Hash))
	s.Unban(a.Hash)
	require.False(t, s.IsBanned(a.Hash))
}

func TestClassificationStoreClearBranchDelayedDoesNotFireDiscard(t *testing.T) {
	var discarded int
	s := NewClassificationStore(4, func(coretypes.OperationHash, RingEntry) { discarded++ })
	a := op(1)
	s.InsertRing(coretypes.BranchDelayed, a, nil)
	s.ClearBranchDelayed()
	require.Equal(t, 0, discarded)
	require.False(t, s.IsHandled(a.Hash))
}

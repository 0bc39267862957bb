package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/validatorproc"
)

func TestCacheStateHintForColdStartIsLoad(t *testing.T) {
	var c cacheState
	require.Equal(t, CacheLoad, c.hintFor(coretypes.BlockHash{0x01}))
}

func TestCacheStateHintForInheritedMatchesLastApplied(t *testing.T) {
	var c cacheState
	applied := coretypes.BlockHash{0xaa}
	c.recordApplied(applied, coretypes.ContextHash{0x01})

	require.Equal(t, CacheInherited, c.hintFor(applied))
	require.Equal(t, CacheLoad, c.hintFor(coretypes.BlockHash{0xbb}))
}

func TestCacheStateStashAndTakeRoundTrip(t *testing.T) {
	var c cacheState
	header := coretypes.BlockHash{0x42}
	result := &validatorproc.PreapplyResult{ShellHeader: coretypes.BlockHeader{Level: 7}}
	c.stashPreapply(header, result)

	got := c.takeStashed(header)
	require.Same(t, result, got)

	// Taking again must return nil -- the stash is cleared on first take.
	require.Nil(t, c.takeStashed(header))
}

func TestCacheStateTakeStashedMismatchedHeaderReturnsNil(t *testing.T) {
	var c cacheState
	c.stashPreapply(coretypes.BlockHash{0x01}, &validatorproc.PreapplyResult{})
	require.Nil(t, c.takeStashed(coretypes.BlockHash{0x02}))
}

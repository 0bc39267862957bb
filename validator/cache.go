package validator

import (
	"sync"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/validatorproc"
)

// cacheState tracks the mutable cache hint and the stashed preapply result
// an Internal validator keeps across calls.
type cacheState struct {
	mu sync.Mutex

	lastApplied       coretypes.BlockHash
	lastAppliedCtx    coretypes.ContextHash
	haveLastApplied   bool

	stashedHeaderHash coretypes.BlockHash
	stashed           *validatorproc.PreapplyResult
}

// hintFor decides Load or Inherited for applying predecessor→header (it
// never returns Lazy): Inherited when header's predecessor is exactly the
// last block we applied (so the engine's cache already holds that context),
// Load otherwise.
func (c *cacheState) hintFor(predecessor coretypes.BlockHash) CacheHint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveLastApplied && c.lastApplied == predecessor {
		return CacheInherited
	}
	return CacheLoad
}

func (c *cacheState) recordApplied(blockHash coretypes.BlockHash, contextHash coretypes.ContextHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastApplied = blockHash
	c.lastAppliedCtx = contextHash
	c.haveLastApplied = true
}

func (c *cacheState) stashPreapply(headerHash coretypes.BlockHash, result *validatorproc.PreapplyResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stashedHeaderHash = headerHash
	c.stashed = result
}

// takeStashed returns (and clears) the stashed preapply result if it
// matches headerHash. Internal.ApplyBlock calls it only to clear the stash:
// the result is not reused, and the engine still performs the full apply.
func (c *cacheState) takeStashed(headerHash coretypes.BlockHash) *validatorproc.PreapplyResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stashed == nil || c.stashedHeaderHash != headerHash {
		return nil
	}
	r := c.stashed
	c.stashed = nil
	return r
}

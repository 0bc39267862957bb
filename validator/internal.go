package validator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/validatorproc"
)

// Internal runs validation in-process against a ProtocolEngine, as opposed
// to External which delegates to a child process.
type Internal struct {
	engine ProtocolEngine
	cache  cacheState
	log    log.Logger
}

func NewInternal(engine ProtocolEngine) *Internal {
	return &Internal{engine: engine, log: log.New("module", "block-validator", "impl", "internal")}
}

func (v *Internal) ApplyBlock(ctx context.Context, req validatorproc.ValidateRequest) (validatorproc.ApplyResult, error) {
	headerHash := req.Header.Hash()
	if stashed := v.cache.takeStashed(headerHash); stashed != nil {
		v.log.Debug("Dropping stashed preapply result, apply_block runs the engine in full", "header", headerHash)
	}

	hint := v.cache.hintFor(req.Predecessor.Hash)
	result, err := v.engine.ApplyBlock(ctx, req, hint)
	if err != nil {
		return validatorproc.ApplyResult{}, fmt.Errorf("apply_block: %w", err)
	}
	if result.Store.ContextHash != req.Header.Context {
		return validatorproc.ApplyResult{}, fmt.Errorf("apply_block: context hash mismatch: got %s, header wants %s", result.Store.ContextHash, req.Header.Context)
	}
	v.cache.recordApplied(headerHash, result.Store.ContextHash)
	return result, nil
}

func (v *Internal) PreapplyBlock(ctx context.Context, req validatorproc.PreapplyRequest) (validatorproc.PreapplyResult, error) {
	result, err := v.engine.PreapplyBlock(ctx, req)
	if err != nil {
		return validatorproc.PreapplyResult{}, fmt.Errorf("preapply_block: %w", err)
	}
	v.cache.stashPreapply(result.ShellHeader.Hash(), &result)
	return result, nil
}

func (v *Internal) PrecheckBlock(ctx context.Context, req validatorproc.PrecheckRequest) error {
	// Lazy: a precheck must not disturb the applied-block cache.
	_ = CacheLazy
	return v.engine.PrecheckBlock(ctx, req)
}

func (v *Internal) CommitGenesis(ctx context.Context, chainID string) error {
	return v.engine.CommitGenesis(ctx, chainID)
}

func (v *Internal) InitTestChain(ctx context.Context, contextHash coretypes.ContextHash, forkedHeader coretypes.BlockHeader) (coretypes.BlockHeader, error) {
	return v.engine.InitTestChain(ctx, contextHash, forkedHeader)
}

func (v *Internal) ReconfigureEventLogging(ctx context.Context, config []byte) error {
	return v.engine.ReconfigureEventLogging(ctx, config)
}

func (v *Internal) Close() error { return v.engine.Close() }

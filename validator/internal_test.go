package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/validatorproc"
)

type fakeEngine struct {
	applyResult validatorproc.ApplyResult
	applyErr    error
	gotHint     CacheHint

	preapplyResult validatorproc.PreapplyResult
	preapplyErr    error

	precheckErr error

	commitGenesisChainID string
	closeCalled          bool
}

func (f *fakeEngine) ApplyBlock(ctx context.Context, req validatorproc.ValidateRequest, hint CacheHint) (validatorproc.ApplyResult, error) {
	f.gotHint = hint
	return f.applyResult, f.applyErr
}

func (f *fakeEngine) PreapplyBlock(ctx context.Context, req validatorproc.PreapplyRequest) (validatorproc.PreapplyResult, error) {
	return f.preapplyResult, f.preapplyErr
}

func (f *fakeEngine) PrecheckBlock(ctx context.Context, req validatorproc.PrecheckRequest) error {
	return f.precheckErr
}

func (f *fakeEngine) CommitGenesis(ctx context.Context, chainID string) error {
	f.commitGenesisChainID = chainID
	return nil
}

func (f *fakeEngine) InitTestChain(ctx context.Context, contextHash coretypes.ContextHash, forkedHeader coretypes.BlockHeader) (coretypes.BlockHeader, error) {
	return forkedHeader, nil
}

func (f *fakeEngine) ReconfigureEventLogging(ctx context.Context, config []byte) error { return nil }

func (f *fakeEngine) Close() error {
	f.closeCalled = true
	return nil
}

func TestInternalApplyBlockColdStartUsesLoadHint(t *testing.T) {
	ctxHash := coretypes.ContextHash{0x7}
	engine := &fakeEngine{applyResult: validatorproc.ApplyResult{Store: validatorproc.ValidationStore{ContextHash: ctxHash}}}
	v := NewInternal(engine)

	req := validatorproc.ValidateRequest{Header: coretypes.BlockHeader{Context: ctxHash}}
	_, err := v.ApplyBlock(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, CacheLoad, engine.gotHint)
}

func TestInternalApplyBlockInheritedOnDirectSuccessor(t *testing.T) {
	ctxHash := coretypes.ContextHash{0x7}
	engine := &fakeEngine{applyResult: validatorproc.ApplyResult{Store: validatorproc.ValidationStore{ContextHash: ctxHash}}}
	v := NewInternal(engine)

	first := validatorproc.ValidateRequest{Header: coretypes.BlockHeader{Level: 1, Context: ctxHash}}
	_, err := v.ApplyBlock(context.Background(), first)
	require.NoError(t, err)

	appliedHash := first.Header.Hash()
	second := validatorproc.ValidateRequest{
		Predecessor: coretypes.BlockDescriptor{Hash: appliedHash},
		Header:      coretypes.BlockHeader{Level: 2, Context: ctxHash},
	}
	_, err = v.ApplyBlock(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, CacheInherited, engine.gotHint)
}

func TestInternalApplyBlockRejectsContextHashMismatch(t *testing.T) {
	engine := &fakeEngine{applyResult: validatorproc.ApplyResult{Store: validatorproc.ValidationStore{ContextHash: coretypes.ContextHash{0x1}}}}
	v := NewInternal(engine)

	req := validatorproc.ValidateRequest{Header: coretypes.BlockHeader{Context: coretypes.ContextHash{0x2}}}
	_, err := v.ApplyBlock(context.Background(), req)
	require.Error(t, err)
}

func TestInternalApplyBlockPropagatesEngineError(t *testing.T) {
	boom := errors.New("boom")
	engine := &fakeEngine{applyErr: boom}
	v := NewInternal(engine)

	_, err := v.ApplyBlock(context.Background(), validatorproc.ValidateRequest{})
	require.ErrorIs(t, err, boom)
}

func TestInternalCommitGenesisForwardsChainID(t *testing.T) {
	engine := &fakeEngine{}
	v := NewInternal(engine)
	require.NoError(t, v.CommitGenesis(context.Background(), "main"))
	require.Equal(t, "main", engine.commitGenesisChainID)
}

func TestInternalCloseForwardsToEngine(t *testing.T) {
	engine := &fakeEngine{}
	v := NewInternal(engine)
	require.NoError(t, v.Close())
	require.True(t, engine.closeCalled)
}

func TestInternalPrecheckBlockForwardsToEngine(t *testing.T) {
	boom := errors.New("precheck failed")
	engine := &fakeEngine{precheckErr: boom}
	v := NewInternal(engine)
	err := v.PrecheckBlock(context.Background(), validatorproc.PrecheckRequest{})
	require.ErrorIs(t, err, boom)
}

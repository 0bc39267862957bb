package validator

import (
	"context"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/validatorproc"
)

// External delegates every operation to a child validation process over
// the validatorproc wire protocol.
type External struct {
	client *validatorproc.Client
}

func NewExternal(client *validatorproc.Client) *External {
	return &External{client: client}
}

func (v *External) ApplyBlock(ctx context.Context, req validatorproc.ValidateRequest) (validatorproc.ApplyResult, error) {
	var out validatorproc.ApplyResult
	err := v.client.Send(validatorproc.KindValidate, &req, &out)
	return out, err
}

func (v *External) PreapplyBlock(ctx context.Context, req validatorproc.PreapplyRequest) (validatorproc.PreapplyResult, error) {
	var out validatorproc.PreapplyResult
	err := v.client.Send(validatorproc.KindPreapply, &req, &out)
	return out, err
}

func (v *External) PrecheckBlock(ctx context.Context, req validatorproc.PrecheckRequest) error {
	return v.client.Send(validatorproc.KindPrecheck, &req, nil)
}

func (v *External) CommitGenesis(ctx context.Context, chainID string) error {
	return v.client.Send(validatorproc.KindCommitGenesis, &validatorproc.CommitGenesisRequest{ChainID: chainID}, nil)
}

func (v *External) InitTestChain(ctx context.Context, contextHash coretypes.ContextHash, forkedHeader coretypes.BlockHeader) (coretypes.BlockHeader, error) {
	var out coretypes.BlockHeader
	err := v.client.Send(validatorproc.KindForkTestChain, &validatorproc.ForkTestChainRequest{
		ContextHash:  contextHash,
		ForkedHeader: forkedHeader,
	}, &out)
	return out, err
}

func (v *External) ReconfigureEventLogging(ctx context.Context, config []byte) error {
	return v.client.Send(validatorproc.KindReconfigureEventLogging, &validatorproc.ReconfigureEventLoggingRequest{Config: config}, nil)
}

func (v *External) Close() error { return v.client.Close() }

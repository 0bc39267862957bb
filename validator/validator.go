// Package validator implements the block validator: a dispatcher that
// applies or preapplies a block either in-process (directly against a
// ProtocolEngine) or out-of-process (over the validatorproc wire protocol
// to a child validation process). BlockValidator is a plain interface with
// two implementations, standing in for the dynamic dispatch a first-class
// module existential would give in a language that has one.
package validator

import (
	"context"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/validatorproc"
)

// CacheHint steers how a ProtocolEngine reuses its mutable validation cache
// across calls: Load on a cold start, Inherited when applying the
// direct successor of the last-applied block, Lazy on prechecks that should
// not disturb the cache.
type CacheHint int

const (
	CacheLoad CacheHint = iota
	CacheInherited
	CacheLazy
)

// ProtocolEngine is the opaque economic-protocol plugin the shell applies
// blocks against; the protocol engines themselves are out of scope here.
// The Internal BlockValidator calls it directly; the External one never
// touches it -- the child process owns its own instance.
type ProtocolEngine interface {
	ApplyBlock(ctx context.Context, req validatorproc.ValidateRequest, hint CacheHint) (validatorproc.ApplyResult, error)
	PreapplyBlock(ctx context.Context, req validatorproc.PreapplyRequest) (validatorproc.PreapplyResult, error)
	PrecheckBlock(ctx context.Context, req validatorproc.PrecheckRequest) error
	CommitGenesis(ctx context.Context, chainID string) error
	InitTestChain(ctx context.Context, contextHash coretypes.ContextHash, forkedHeader coretypes.BlockHeader) (coretypes.BlockHeader, error)
	ReconfigureEventLogging(ctx context.Context, config []byte) error
	Close() error
}

// BlockValidator is implemented by Internal and External.
type BlockValidator interface {
	ApplyBlock(ctx context.Context, req validatorproc.ValidateRequest) (validatorproc.ApplyResult, error)
	PreapplyBlock(ctx context.Context, req validatorproc.PreapplyRequest) (validatorproc.PreapplyResult, error)
	PrecheckBlock(ctx context.Context, req validatorproc.PrecheckRequest) error
	CommitGenesis(ctx context.Context, chainID string) error
	InitTestChain(ctx context.Context, contextHash coretypes.ContextHash, forkedHeader coretypes.BlockHeader) (coretypes.BlockHeader, error)
	ReconfigureEventLogging(ctx context.Context, config []byte) error
	Close() error
}

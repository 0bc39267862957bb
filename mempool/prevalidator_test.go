package mempool

import (
	"context"
	"time"

	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// fakeApplier classifies every operation with its configured result and
// never pre-filters.
type fakeApplier struct {
	result coretypes.Classification
}

func (f *fakeApplier) Parse(data []byte) (coretypes.Operation, error) {
	return coretypes.Operation{Data: data}, nil
}

func (f *fakeApplier) PreFilter(coretypes.Operation) (coretypes.Classification, bool) {
	return coretypes.Classification{}, false
}

func (f *fakeApplier) Apply(ctx context.Context, branch coretypes.BlockHash, op coretypes.Operation) (coretypes.Classification, error) {
	return f.result, nil
}

func (f *fakeApplier) PostFilter(coretypes.Operation, coretypes.Classification) bool { return true }

type fakeDDB struct {
	cleared    []coretypes.OperationHash
	propagated []coretypes.OperationHash
}

func (d *fakeDDB) Fetch(ctx context.Context, oph coretypes.OperationHash, timeout time.Duration) (coretypes.Operation, error) {
	return coretypes.Operation{Hash: oph}, nil
}
func (d *fakeDDB) Propagate(op coretypes.Operation) { d.propagated = append(d.propagated, op.Hash) }
func (d *fakeDDB) Clear(oph coretypes.OperationHash) { d.cleared = append(d.cleared, oph) }

func newTestPrevalidator(applier OperationApplier, ddb DistributedDB) *Prevalidator {
	branch := coretypes.BlockHash{0x01}
	return New(
		Config{ChainID: "test", RingCapacity: 4, OperationsBatchSize: 10, OperationTimeout: time.Second, AdvertisementDelay: time.Millisecond},
		applier, ddb, branch,
		mapset.NewThreadUnsafeSet(branch),
		mapset.NewThreadUnsafeSet[coretypes.OperationHash](),
		func([]coretypes.OperationHash) {},
	)
}

func TestPrevalidatorOnInjectAppliedThenBanRemoves(t *testing.T) {
	applier := &fakeApplier{result: coretypes.ClassifyApplied()}
	ddb := &fakeDDB{}
	p := newTestPrevalidator(applier, ddb)
	defer p.Close()

	operation := coretypes.Operation{Hash: coretypes.OperationHash{0x9}, Branch: coretypes.BlockHash{0x01}}
	require.NoError(t, p.OnInject(context.Background(), operation, false))

	// OnInject re-queues an Applied op into pending for the batch pass.
	p.HandlePending(context.Background())

	kind, ok := p.Store().Kind(operation.Hash)
	require.True(t, ok)
	require.Equal(t, coretypes.Applied, kind)

	wasApplied := p.Ban(operation.Hash)
	require.True(t, wasApplied)
	_, stillClassified := p.Store().Kind(operation.Hash)
	require.False(t, stillClassified)
	require.True(t, p.Store().IsBanned(operation.Hash))
	require.Contains(t, ddb.cleared, operation.Hash)
}

func TestPrevalidatorOnArriveDropsOperationOffLiveBranch(t *testing.T) {
	applier := &fakeApplier{result: coretypes.ClassifyApplied()}
	ddb := &fakeDDB{}
	p := newTestPrevalidator(applier, ddb)
	defer p.Close()

	operation := coretypes.Operation{Hash: coretypes.OperationHash{0x5}, Branch: coretypes.BlockHash{0xee}}
	p.OnArrive(operation)

	require.Contains(t, ddb.cleared, operation.Hash)
	require.False(t, p.Store().IsHandled(operation.Hash))
}

func TestPrevalidatorOnArriveRejectsAlreadyHandled(t *testing.T) {
	applier := &fakeApplier{result: coretypes.ClassifyApplied()}
	ddb := &fakeDDB{}
	p := newTestPrevalidator(applier, ddb)
	defer p.Close()

	operation := coretypes.Operation{Hash: coretypes.OperationHash{0x7}, Branch: coretypes.BlockHash{0x01}}
	p.Store().Ban(operation.Hash)
	p.OnArrive(operation)

	// Already banned (handled) -- must not enter pending.
	p.HandlePending(context.Background())
	_, ok := p.Store().Kind(operation.Hash)
	require.False(t, ok)
}

func TestPrevalidatorHandlePendingRefusedGoesToRing(t *testing.T) {
	applier := &fakeApplier{result: coretypes.ClassifyWithErrors(coretypes.Refused, []coretypes.OperationError{{ID: "bad"}})}
	ddb := &fakeDDB{}
	p := newTestPrevalidator(applier, ddb)
	defer p.Close()

	operation := coretypes.Operation{Hash: coretypes.OperationHash{0x3}, Branch: coretypes.BlockHash{0x01}}
	p.OnArrive(operation)
	p.HandlePending(context.Background())

	kind, ok := p.Store().Kind(operation.Hash)
	require.True(t, ok)
	require.Equal(t, coretypes.Refused, kind)
}

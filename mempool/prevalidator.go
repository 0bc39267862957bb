// Package mempool implements the prevalidator: the per-chain operation
// classification state machine sitting on top of current_head.
package mempool

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-mive/coreshell/coretypes"
)

const (
	defaultOperationsBatchSize = 50
	defaultOperationTimeout    = 10 * time.Second
	defaultAdvertisementDelay  = 100 * time.Millisecond
)

// OperationApplier is the protocol-engine slice the prevalidator depends on
// (distinct from validator.ProtocolEngine, which is block-shaped): parsing
// raw bytes, a cheap pre-filter, full application against the candidate
// validation state, and a post-filter run only on Applied.
type OperationApplier interface {
	Parse(data []byte) (coretypes.Operation, error)
	PreFilter(op coretypes.Operation) (verdict coretypes.Classification, decided bool)
	Apply(ctx context.Context, branch coretypes.BlockHash, op coretypes.Operation) (coretypes.Classification, error)
	PostFilter(op coretypes.Operation, class coretypes.Classification) bool
}

// DistributedDB is the out-of-scope peer/network collaborator the
// prevalidator fetches operations from and propagates/advertises through.
// The peer-to-peer layer itself is not this package's concern.
type DistributedDB interface {
	Fetch(ctx context.Context, oph coretypes.OperationHash, timeout time.Duration) (coretypes.Operation, error)
	Propagate(op coretypes.Operation)
	Clear(oph coretypes.OperationHash)
}

// Prevalidator maintains operation classification for one chain on top of
// its current head.
type Prevalidator struct {
	chainID string
	applier OperationApplier
	ddb     DistributedDB
	store   *ClassificationStore

	operationsBatchSize int
	operationTimeout    time.Duration
	ringCapacity        int

	mu          sync.Mutex
	predecessor coretypes.BlockHash
	timestamp   int64
	liveBlocks  mapset.Set[coretypes.BlockHash]
	liveOps     mapset.Set[coretypes.OperationHash]
	pending     map[coretypes.OperationHash]coretypes.Operation
	fetching    map[coretypes.OperationHash]context.CancelFunc

	advertiser *advertiser

	log log.Logger
}

// Config collects the prevalidator's tunables.
type Config struct {
	ChainID             string
	RingCapacity        int
	OperationsBatchSize int
	OperationTimeout    time.Duration
	AdvertisementDelay  time.Duration
}

// New constructs a prevalidator rooted at predecessor with the given live
// window (normally chainstate.Snapshot's CurrentHead/LiveBlocks/
// LiveOperations at the time the chain validator starts it).
func New(cfg Config, applier OperationApplier, ddb DistributedDB, predecessor coretypes.BlockHash, liveBlocks mapset.Set[coretypes.BlockHash], liveOps mapset.Set[coretypes.OperationHash], advertise func([]coretypes.OperationHash)) *Prevalidator {
	if cfg.OperationsBatchSize <= 0 {
		cfg.OperationsBatchSize = defaultOperationsBatchSize
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	delay := cfg.AdvertisementDelay
	if delay <= 0 {
		delay = defaultAdvertisementDelay
	}

	p := &Prevalidator{
		chainID:             cfg.ChainID,
		applier:             applier,
		ddb:                 ddb,
		operationsBatchSize: cfg.OperationsBatchSize,
		operationTimeout:    cfg.OperationTimeout,
		ringCapacity:        cfg.RingCapacity,
		predecessor:         predecessor,
		liveBlocks:          liveBlocks,
		liveOps:             liveOps,
		pending:             make(map[coretypes.OperationHash]coretypes.Operation),
		fetching:            make(map[coretypes.OperationHash]context.CancelFunc),
		log:                 log.New("module", "prevalidator", "chain", cfg.ChainID),
	}
	p.store = NewClassificationStore(cfg.RingCapacity, func(oph coretypes.OperationHash, entry RingEntry) {
		p.log.Debug("Discarding operation from bounded classification ring", "op", oph)
	})
	p.advertiser = newAdvertiser(delay, advertise)
	return p
}

// Close stops the debounced advertisement timer.
func (p *Prevalidator) Close() { p.advertiser.stop() }

// OnArrive handles an operation delivered by a peer, already parsed.
func (p *Prevalidator) OnArrive(op coretypes.Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onArriveLocked(op)
}

func (p *Prevalidator) onArriveLocked(op coretypes.Operation) {
	if p.store.IsHandled(op.Hash) {
		return
	}
	if !p.liveBlocks.ContainsOne(op.Branch) {
		p.ddb.Clear(op.Hash)
		return
	}
	if verdict, decided := p.applier.PreFilter(op); decided {
		p.classifyLocked(op, verdict)
		return
	}
	p.pending[op.Hash] = op
}

// OnInject handles a locally injected operation, applied immediately rather
// than deferred to the next pending batch.
func (p *Prevalidator) OnInject(ctx context.Context, op coretypes.Operation, force bool) error {
	class, err := p.applier.Apply(ctx, p.currentPredecessor(), op)
	if err != nil {
		return fmt.Errorf("apply injected operation %s: %w", op.Hash, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if class.Kind == coretypes.Applied {
		p.ddb.Propagate(op)
		p.pending[op.Hash] = op
		return nil
	}
	if force {
		p.pending[op.Hash] = op
		return nil
	}
	p.classifyLocked(op, class)
	return nil
}

// OnNotify fetches an advertised hash via the distributed database, then
// treats it as arrived.
func (p *Prevalidator) OnNotify(ctx context.Context, oph coretypes.OperationHash) error {
	p.mu.Lock()
	if p.store.IsHandled(oph) {
		p.mu.Unlock()
		return nil
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	p.fetching[oph] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.fetching, oph)
		p.mu.Unlock()
	}()

	op, err := p.ddb.Fetch(fetchCtx, oph, p.operationTimeout)
	if err != nil {
		return &ErrCanceled{Hash: oph}
	}
	p.OnArrive(op)
	return nil
}

func (p *Prevalidator) currentPredecessor() coretypes.BlockHash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predecessor
}

// HandlePending processes the pending set: apply, then dispatch per
// outcome, batched by operations_batch_size.
func (p *Prevalidator) HandlePending(ctx context.Context) {
	for {
		batch := p.takeBatch()
		if len(batch) == 0 {
			return
		}
		for _, op := range batch {
			p.handleOne(ctx, op)
		}
	}
}

func (p *Prevalidator) takeBatch() []coretypes.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	batch := make([]coretypes.Operation, 0, p.operationsBatchSize)
	for oph, op := range p.pending {
		batch = append(batch, op)
		delete(p.pending, oph)
		if len(batch) == p.operationsBatchSize {
			break
		}
	}
	return batch
}

func (p *Prevalidator) handleOne(ctx context.Context, op coretypes.Operation) {
	class, err := p.applier.Apply(ctx, p.currentPredecessor(), op)
	if err != nil {
		p.log.Warn("Failed to apply pending operation", "op", op.Hash, "err", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch class.Kind {
	case coretypes.Applied:
		if p.applier.PostFilter(op, class) {
			p.store.InsertApplied(op)
			p.advertiser.enqueue(op.Hash)
		} else {
			p.ddb.Clear(op.Hash)
		}
	case coretypes.Outdated:
		p.ddb.Clear(op.Hash)
	case coretypes.BranchDelayed, coretypes.BranchRefused, coretypes.Refused:
		p.store.InsertRing(class.Kind, op, class.Errors)
	default:
		p.store.InsertPrechecked(op)
	}
}

func (p *Prevalidator) classifyLocked(op coretypes.Operation, class coretypes.Classification) {
	switch class.Kind {
	case coretypes.Applied:
		p.store.InsertApplied(op)
		p.advertiser.enqueue(op.Hash)
	case coretypes.Outdated:
		p.ddb.Clear(op.Hash)
	case coretypes.BranchDelayed, coretypes.BranchRefused, coretypes.Refused:
		p.store.InsertRing(class.Kind, op, class.Errors)
	default:
		p.store.InsertPrechecked(op)
	}
}

// Ban removes the operation from the distributed database, marks it banned,
// and removes it from pending/fetching. If the op was Applied, a full flush is
// triggered by the caller (the chain validator owns flush's new-head
// inputs); Ban itself only reports whether that is necessary.
func (p *Prevalidator) Ban(oph coretypes.OperationHash) (wasApplied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ddb.Clear(oph)
	p.store.Ban(oph)
	delete(p.pending, oph)
	if cancel, ok := p.fetching[oph]; ok {
		cancel()
		delete(p.fetching, oph)
	}
	return p.store.RemoveApplied(oph)
}

func (p *Prevalidator) Unban(oph coretypes.OperationHash) {
	p.store.Unban(oph)
}

// Store exposes the classification store for read-only inspection (mempool
// RPCs, tests).
func (p *Prevalidator) Store() *ClassificationStore { return p.store }

package mempool

import (
	"sync"
	"time"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// advertiser buffers newly classified operation hashes and flushes them as a
// single CurrentHead-style broadcast after advertisement_delay of quiet.
type advertiser struct {
	mu      sync.Mutex
	delay   time.Duration
	buffer  []coretypes.OperationHash
	timer   *time.Timer
	publish func([]coretypes.OperationHash)
	stopped bool
}

func newAdvertiser(delay time.Duration, publish func([]coretypes.OperationHash)) *advertiser {
	return &advertiser{delay: delay, publish: publish}
}

func (a *advertiser) enqueue(oph coretypes.OperationHash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.buffer = append(a.buffer, oph)
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, a.flush)
}

func (a *advertiser) flush() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.buffer
	a.buffer = nil
	a.mu.Unlock()
	if a.publish != nil {
		a.publish(batch)
	}
}

func (a *advertiser) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

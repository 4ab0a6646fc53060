// Package worker implements the Inference Worker (§4.3): Frame Bus
// consumer-group membership, cross-camera micro-batch formation, and
// the detect→NMS→crop→embed→publish→ack pipeline.
package worker

import (
	"sync"
	"time"

	"github.com/ethan/trinetra/pkg/framebus"
)

// Accumulator buffers Frame Bus entries across cameras until a batch
// is ready by either trigger (§4.3): size >= BatchSize, or elapsed
// time since the first buffered entry >= BatchTimeout.
type Accumulator struct {
	batchSize    int
	batchTimeout time.Duration

	mu      sync.Mutex
	pending []framebus.Entry
	started time.Time
}

// NewAccumulator builds an Accumulator with the given dual triggers.
func NewAccumulator(batchSize int, batchTimeout time.Duration) *Accumulator {
	return &Accumulator{batchSize: batchSize, batchTimeout: batchTimeout}
}

// Add appends entries to the pending batch, stamping the batch start
// time on the first addition.
func (a *Accumulator) Add(entries ...framebus.Entry) {
	if len(entries) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		a.started = time.Now()
	}
	a.pending = append(a.pending, entries...)
}

// Ready reports whether the current pending batch meets either
// trigger.
func (a *Accumulator) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readyLocked()
}

func (a *Accumulator) readyLocked() bool {
	if len(a.pending) == 0 {
		return false
	}
	if len(a.pending) >= a.batchSize {
		return true
	}
	return time.Since(a.started) >= a.batchTimeout
}

// TimeUntilReady returns how long until the timeout trigger fires for
// the current pending batch, for a caller's select/timer loop. Returns
// 0 if the batch is empty or already ready.
func (a *Accumulator) TimeUntilReady() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 || a.readyLocked() {
		return 0
	}
	remaining := a.batchTimeout - time.Since(a.started)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Flush drains and returns the pending batch, resetting state.
func (a *Accumulator) Flush() []framebus.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch := a.pending
	a.pending = nil
	return batch
}

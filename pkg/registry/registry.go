// Package registry implements the Active Identity Registry (§4.5): an
// ephemeral, process-local map of currently-in-store customer
// identities, rebuilt from event replay after a restart and never
// persisted.
package registry

import (
	"sync"
	"time"

	"github.com/ethan/trinetra/pkg/schema"
)

// DefaultTTL is the time after which a sighting with no update expires
// (§3).
const DefaultTTL = 3600 * time.Second

// Record is the value half of the registry map.
type Record struct {
	CameraID    string
	LastSeenTS  float64
	LastSeenAt  time.Time
	LastEmbed   schema.Embedding
}

// Registry owns the in-memory customer_id -> Record mapping. A single
// process owns one Registry value; it is never a package-level
// singleton, so horizontal scaling of the resolver requires
// partitioning by customer_id at the caller.
type Registry struct {
	ttl time.Duration

	mu      sync.RWMutex
	records map[string]*Record

	processed     uint64
	sweepInterval uint64
}

// New creates a Registry with the given TTL. sweepInterval controls
// how many processed events elapse between eviction sweeps (§4.5:
// "every 1000 processed events").
func New(ttl time.Duration, sweepInterval uint64) *Registry {
	if sweepInterval == 0 {
		sweepInterval = 1000
	}
	return &Registry{
		ttl:           ttl,
		records:       make(map[string]*Record),
		sweepInterval: sweepInterval,
	}
}

// Record upserts the sighting for customerID.
func (r *Registry) Record(customerID, cameraID string, ts float64, embedding schema.Embedding) {
	r.mu.Lock()
	r.records[customerID] = &Record{
		CameraID:   cameraID,
		LastSeenTS: ts,
		LastSeenAt: time.Now(),
		LastEmbed:  embedding,
	}
	r.mu.Unlock()
}

// Tick counts one processed event toward the periodic eviction sweep
// and runs the sweep every sweepInterval calls. The caller must invoke
// this once per event resolved — matched, unknown, or rejected alike —
// not once per Record call, since a deployment dominated by UNKNOWN
// resolutions would otherwise barely advance the sweep at all (§4.5:
// "every 1000 processed events").
func (r *Registry) Tick() {
	r.mu.Lock()
	r.processed++
	due := r.processed%r.sweepInterval == 0
	r.mu.Unlock()

	if due {
		r.Sweep()
	}
}

// GetLastSeen returns the record for customerID iff it has not expired
// (now - last_seen_ts < TTL, measured against wall-clock insertion
// time), else nil.
func (r *Registry) GetLastSeen(customerID string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[customerID]
	if !ok {
		return nil
	}
	if time.Since(rec.LastSeenAt) >= r.ttl {
		return nil
	}
	// Return a copy so callers cannot mutate registry state directly.
	cp := *rec
	return &cp
}

// Sweep drops every record whose TTL has expired. It is called
// automatically every sweepInterval processed events, but may also be
// invoked directly (e.g. by a periodic ticker in the resolver's main
// loop) for low-traffic deployments where the event-count trigger
// rarely fires.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, rec := range r.records {
		if time.Since(rec.LastSeenAt) >= r.ttl {
			delete(r.records, id)
			dropped++
		}
	}
	return dropped
}

// Size reports the current number of live (not necessarily
// unexpired) entries, backing the trinetra_active_identities gauge.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

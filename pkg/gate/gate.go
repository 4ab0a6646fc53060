// Package gate implements the spatiotemporal physical-plausibility
// check (§4.6 of the spec): reject a candidate identity match if the
// elapsed time since its last sighting is shorter than the physically
// minimum travel time between the two cameras involved.
package gate

import "sync"

// DefaultMinTravelSeconds is used for any camera pair missing from the
// travel matrix.
const DefaultMinTravelSeconds = 3.0

// Decision is the outcome of evaluating a single candidate.
type Decision int

const (
	// Accept means the candidate may be used as the resolved identity.
	Accept Decision = iota
	// RejectPhysics means the elapsed time is shorter than the
	// minimum physically possible travel time between the cameras.
	RejectPhysics
)

// String renders the decision for logging and metric labels.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case RejectPhysics:
		return "reject_physics"
	default:
		return "unknown"
	}
}

// LastSeen describes a candidate's most recent accepted sighting.
type LastSeen struct {
	CameraID string
	TS       float64
}

// TravelMatrix holds the minimum number of seconds required to travel
// between any two cameras. It is a static per-deployment configuration
// artifact, loaded at startup and optionally reloadable (§9).
type TravelMatrix struct {
	mu    sync.RWMutex
	pairs map[string]map[string]float64
}

// NewTravelMatrix builds an empty matrix; every lookup falls back to
// DefaultMinTravelSeconds until pairs are set.
func NewTravelMatrix() *TravelMatrix {
	return &TravelMatrix{pairs: make(map[string]map[string]float64)}
}

// Set records the minimum travel time from one camera to another. The
// matrix must be symmetric in practice but Set does not enforce it —
// the algorithm only ever reads M[from][to].
func (m *TravelMatrix) Set(from, to string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pairs[from] == nil {
		m.pairs[from] = make(map[string]float64)
	}
	m.pairs[from][to] = seconds
}

// MinTravel returns M[from][to], or DefaultMinTravelSeconds if the pair
// is not configured.
func (m *TravelMatrix) MinTravel(from, to string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.pairs[from]; ok {
		if v, ok := row[to]; ok {
			return v
		}
	}
	return DefaultMinTravelSeconds
}

// Replace swaps the matrix's contents atomically, used by the config
// hot-reload watcher so in-flight Decide calls never observe a
// half-updated matrix.
func (m *TravelMatrix) Replace(pairs map[string]map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = pairs
}

// Decide applies the first-matching-rule decision procedure of §4.6.
//
//  1. No last sighting -> Accept (first sighting).
//  2. Same camera as last sighting -> Accept (no travel).
//  3. Elapsed time beyond the gate window -> Accept (re-entry assumed).
//  4. Elapsed shorter than the minimum travel time -> RejectPhysics.
//  5. Otherwise -> Accept.
func Decide(matrix *TravelMatrix, lastSeen *LastSeen, currentCamera string, currentTS, gateWindow float64) Decision {
	if lastSeen == nil {
		return Accept
	}
	if lastSeen.CameraID == currentCamera {
		return Accept
	}

	elapsed := currentTS - lastSeen.TS
	if elapsed > gateWindow {
		return Accept
	}

	minTravel := matrix.MinTravel(lastSeen.CameraID, currentCamera)
	if elapsed < minTravel {
		return RejectPhysics
	}

	return Accept
}

package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethan/trinetra/pkg/gate"
)

func matrixWithEntranceBilling(seconds float64) *gate.TravelMatrix {
	m := gate.NewTravelMatrix()
	m.Set("cam_entrance_01", "cam_billing_01", seconds)
	return m
}

func TestDecideFirstSighting(t *testing.T) {
	m := gate.NewTravelMatrix()
	d := gate.Decide(m, nil, "cam_entrance_01", 100.0, 3600)
	assert.Equal(t, gate.Accept, d)
}

func TestDecideSameCamera(t *testing.T) {
	m := gate.NewTravelMatrix()
	last := &gate.LastSeen{CameraID: "cam_entrance_01", TS: 95.0}
	d := gate.Decide(m, last, "cam_entrance_01", 100.0, 3600)
	assert.Equal(t, gate.Accept, d)
}

func TestDecideReEntryAfterWindow(t *testing.T) {
	// S4: re-entry after the gate window elapses is always accepted,
	// regardless of the travel matrix.
	m := matrixWithEntranceBilling(10.0)
	last := &gate.LastSeen{CameraID: "cam_entrance_01", TS: 0}
	d := gate.Decide(m, last, "cam_billing_01", 3700, 3600)
	assert.Equal(t, gate.Accept, d)
}

func TestDecidePhysicsRejection(t *testing.T) {
	// S2: 3.0s elapsed but the matrix requires 10.0s minimum travel.
	m := matrixWithEntranceBilling(10.0)
	last := &gate.LastSeen{CameraID: "cam_entrance_01", TS: 0}
	d := gate.Decide(m, last, "cam_billing_01", 3.0, 3600)
	assert.Equal(t, gate.RejectPhysics, d)
}

func TestDecidePhysicsAllows(t *testing.T) {
	// S3: 12.0s elapsed clears the 10.0s minimum travel.
	m := matrixWithEntranceBilling(10.0)
	last := &gate.LastSeen{CameraID: "cam_entrance_01", TS: 0}
	d := gate.Decide(m, last, "cam_billing_01", 12.0, 3600)
	assert.Equal(t, gate.Accept, d)
}

func TestDecideExactlyAtMinTravel(t *testing.T) {
	// Boundary case: elapsed == min_travel must accept (rule 4 only
	// rejects when elapsed is strictly less than min_travel).
	m := matrixWithEntranceBilling(10.0)
	last := &gate.LastSeen{CameraID: "cam_entrance_01", TS: 0}
	d := gate.Decide(m, last, "cam_billing_01", 10.0, 3600)
	assert.Equal(t, gate.Accept, d)
}

func TestDecideMissingPairUsesDefault(t *testing.T) {
	m := gate.NewTravelMatrix()
	last := &gate.LastSeen{CameraID: "cam_unknown_01", TS: 0}
	d := gate.Decide(m, last, "cam_unknown_02", 1.0, 3600)
	assert.Equal(t, gate.RejectPhysics, d, "default min travel is 3.0s, 1.0s elapsed must reject")

	d2 := gate.Decide(m, last, "cam_unknown_02", gate.DefaultMinTravelSeconds, 3600)
	assert.Equal(t, gate.Accept, d2)
}

func TestTravelMatrixReplaceIsAtomic(t *testing.T) {
	m := gate.NewTravelMatrix()
	m.Set("a", "b", 5.0)
	assert.Equal(t, 5.0, m.MinTravel("a", "b"))

	m.Replace(map[string]map[string]float64{"a": {"b": 20.0}})
	assert.Equal(t, 20.0, m.MinTravel("a", "b"))
}

// invariant 5 of spec §8: for every ACCEPT where last_seen != nil and
// last_camera != current_camera and elapsed <= gate_window, elapsed
// must be >= the configured (or default) minimum travel time.
func TestInvariant5AcceptImpliesElapsedAboveMinTravel(t *testing.T) {
	m := matrixWithEntranceBilling(10.0)
	cases := []float64{10.0, 10.001, 50.0, 3599.0}
	for _, elapsed := range cases {
		last := &gate.LastSeen{CameraID: "cam_entrance_01", TS: 0}
		d := gate.Decide(m, last, "cam_billing_01", elapsed, 3600)
		if d == gate.Accept {
			assert.GreaterOrEqual(t, elapsed, m.MinTravel("cam_entrance_01", "cam_billing_01"))
		}
	}
}

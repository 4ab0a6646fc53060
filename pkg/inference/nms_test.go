package inference_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethan/trinetra/pkg/inference"
	"github.com/ethan/trinetra/pkg/schema"
)

func TestNMSDropsOverlappingLowerConfidence(t *testing.T) {
	boxes := []schema.Detection{
		{TrackID: 1, BBox: schema.BBox{0, 0, 10, 10}, Confidence: 0.9},
		{TrackID: 2, BBox: schema.BBox{1, 1, 11, 11}, Confidence: 0.8}, // heavy overlap, lower conf
		{TrackID: 3, BBox: schema.BBox{100, 100, 110, 110}, Confidence: 0.5}, // disjoint
	}

	kept := inference.NMS(boxes, 0.45)
	assert.Len(t, kept, 2)
	assert.Equal(t, 1, kept[0].TrackID)
	assert.Equal(t, 3, kept[1].TrackID)
}

func TestNMSKeepsNonOverlappingBoxes(t *testing.T) {
	boxes := []schema.Detection{
		{TrackID: 1, BBox: schema.BBox{0, 0, 10, 10}, Confidence: 0.6},
		{TrackID: 2, BBox: schema.BBox{50, 50, 60, 60}, Confidence: 0.7},
	}
	kept := inference.NMS(boxes, 0.45)
	assert.Len(t, kept, 2)
}

func TestNMSEmptyAndSingleton(t *testing.T) {
	assert.Empty(t, inference.NMS(nil, 0.45))
	single := []schema.Detection{{TrackID: 1, BBox: schema.BBox{0, 0, 1, 1}, Confidence: 0.5}}
	assert.Equal(t, single, inference.NMS(single, 0.45))
}

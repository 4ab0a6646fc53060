package inference

import "github.com/ethan/trinetra/pkg/schema"

// NMS applies greedy non-maximum suppression: detections are sorted by
// descending confidence, and any detection whose IoU with an
// already-kept, higher-confidence detection exceeds maxIoU is dropped.
// No pack library supplies this; it is a ~30-line pure-math routine.
func NMS(detections []schema.Detection, maxIoU float32) []schema.Detection {
	if len(detections) <= 1 {
		return detections
	}

	sorted := make([]schema.Detection, len(detections))
	copy(sorted, detections)
	insertionSortByConfidenceDesc(sorted)

	kept := make([]schema.Detection, 0, len(sorted))
	for _, candidate := range sorted {
		suppressed := false
		for _, k := range kept {
			if iou(candidate.BBox, k.BBox) > maxIoU {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func insertionSortByConfidenceDesc(d []schema.Detection) {
	for i := 1; i < len(d); i++ {
		j := i
		for j > 0 && d[j-1].Confidence < d[j].Confidence {
			d[j-1], d[j] = d[j], d[j-1]
			j--
		}
	}
}

// iou returns the intersection-over-union of two axis-aligned boxes.
func iou(a, b schema.BBox) float32 {
	ix0, iy0 := max32(a[0], b[0]), max32(a[1], b[1])
	ix1, iy1 := min32(a[2], b[2]), min32(a[3], b[3])

	iw, ih := ix1-ix0, iy1-iy0
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := iw * ih
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

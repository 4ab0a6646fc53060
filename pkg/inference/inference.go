// Package inference declares the black-box detection and embedding
// contracts run by the Inference Worker, plus the NMS, cropping, and
// sub-batching logic that glues them together. The detector and
// embedder themselves are swappable function values; this package
// ships a deterministic stub pair for tests and local runs without a
// GPU.
package inference

import (
	"context"
	"crypto/sha256"
	"image"
	"math"

	"github.com/ethan/trinetra/pkg/schema"
)

// PersonClassID is the only detection class the worker keeps; every
// other class_id is filtered out before NMS (§4.3).
const PersonClassID = 0

// Detection thresholds fixed by the wire contract.
const (
	MinConfidence = 0.35
	MaxIoU        = 0.45
)

// CropSize is the square crop/resize target fed to the embedder.
const CropSize = 112

// EmbedSubBatchSize caps how many crops are embedded in one call,
// matching the VRAM ceiling in §4.3.
const EmbedSubBatchSize = 16

// Detector runs person detection over one cross-camera micro-batch of
// decoded frames in a single call, returning one detection list per
// frame in the same order — this is what lets a GPU detector amortize
// its fixed per-call overhead across every camera in the batch rather
// than paying it once per frame (§4.3 step 2). Implementations are
// expected to already filter to PersonClassID; Run applies NMS on top
// regardless, since a detector that does its own NMS is still safe to
// re-filter.
type Detector func(ctx context.Context, imgs []image.Image) ([][]schema.Detection, error)

// Embedder produces L2-normalized 512-dim embeddings for a batch of
// equally-sized crops, one per crop, in order.
type Embedder func(ctx context.Context, crops []image.Image) ([]schema.Embedding, error)

// Pipeline couples a Detector and Embedder and implements the worker's
// whole-micro-batch inference path: detect once across every frame,
// NMS per frame, collect crops across the whole batch, embed in
// ≤16-crop sub-batches, and reassemble per-frame results.
type Pipeline struct {
	Detect Detector
	Embed  Embedder
}

// Run executes the fail-open inference path of §4.3 over imgs, one
// cross-camera micro-batch at a time: a detector error yields an empty
// detection list for every frame in the batch rather than aborting it;
// an embedder error on a sub-batch substitutes zero-vectors for that
// sub-batch's crops only. The returned slices are indexed identically
// to imgs: result[i] corresponds to imgs[i].
func (p *Pipeline) Run(ctx context.Context, imgs []image.Image) ([][]schema.Detection, [][]schema.Embedding) {
	keptPerFrame := make([][]schema.Detection, len(imgs))
	embeddingsPerFrame := make([][]schema.Embedding, len(imgs))

	raw, err := p.Detect(ctx, imgs)
	if err != nil || len(raw) != len(imgs) {
		return keptPerFrame, embeddingsPerFrame
	}

	// cropOwner[k] is the frame index and within-frame detection index
	// the k'th collected crop belongs to, so embeddings can be scattered
	// back into the right per-frame slot after sub-batched embedding.
	var crops []image.Image
	type cropOwner struct{ frame, det int }
	var owners []cropOwner

	for i, img := range imgs {
		filtered := make([]schema.Detection, 0, len(raw[i]))
		for _, d := range raw[i] {
			if d.ClassID == PersonClassID && d.Confidence >= MinConfidence && d.BBox.Area() > 0 {
				filtered = append(filtered, d)
			}
		}
		kept := NMS(filtered, MaxIoU)
		keptPerFrame[i] = kept
		embeddingsPerFrame[i] = make([]schema.Embedding, len(kept))

		for j, d := range kept {
			crops = append(crops, cropAndResize(img, d.BBox, CropSize))
			owners = append(owners, cropOwner{frame: i, det: j})
		}
	}

	for start := 0; start < len(crops); start += EmbedSubBatchSize {
		end := start + EmbedSubBatchSize
		if end > len(crops) {
			end = len(crops)
		}
		sub, err := p.Embed(ctx, crops[start:end])
		if err != nil || len(sub) != end-start {
			continue // zero-vectors already in place for this sub-batch
		}
		for k, emb := range sub {
			owner := owners[start+k]
			embeddingsPerFrame[owner.frame][owner.det] = emb
		}
	}

	return keptPerFrame, embeddingsPerFrame
}

// cropAndResize extracts bbox from img and resizes it to size×size via
// nearest-neighbor sampling. A GPU deployment swaps this for a
// hardware-accelerated resize; the algorithm here exists only to keep
// the pipeline runnable without one.
func cropAndResize(img image.Image, bbox schema.BBox, size int) image.Image {
	bounds := img.Bounds()
	x0 := clampInt(int(bbox[0]), bounds.Min.X, bounds.Max.X)
	y0 := clampInt(int(bbox[1]), bounds.Min.Y, bounds.Max.Y)
	x1 := clampInt(int(bbox[2]), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(bbox[3]), bounds.Min.Y, bounds.Max.Y)
	if x1 <= x0 || y1 <= y0 {
		return image.NewRGBA(image.Rect(0, 0, size, size))
	}

	srcW, srcH := x1-x0, y1-y0
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	for dy := 0; dy < size; dy++ {
		sy := y0 + dy*srcH/size
		for dx := 0; dx < size; dx++ {
			sx := x0 + dx*srcW/size
			dst.Set(dx, dy, img.At(sx, sy))
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StubDetector is a deterministic, GPU-free Detector for tests and
// local runs: it returns one full-frame detection per image with a
// fixed confidence of 0.9, so repeated calls on the same frame are
// reproducible.
func StubDetector(ctx context.Context, imgs []image.Image) ([][]schema.Detection, error) {
	out := make([][]schema.Detection, len(imgs))
	for i, img := range imgs {
		b := img.Bounds()
		if b.Dx() == 0 || b.Dy() == 0 {
			continue
		}
		out[i] = []schema.Detection{{
			TrackID:    0,
			BBox:       schema.BBox{0, 0, float32(b.Dx()), float32(b.Dy())},
			Confidence: 0.9,
			ClassID:    PersonClassID,
		}}
	}
	return out, nil
}

// StubEmbedder is a deterministic, GPU-free Embedder: it hashes a
// coarse grid of each crop's sampled pixel values into a 512-dim unit
// vector.
func StubEmbedder(ctx context.Context, crops []image.Image) ([]schema.Embedding, error) {
	out := make([]schema.Embedding, len(crops))
	for i, crop := range crops {
		out[i] = hashEmbedding(crop)
	}
	return out, nil
}

func hashEmbedding(img image.Image) schema.Embedding {
	b := img.Bounds()
	sum := make([]byte, 0, 64)
	for y := b.Min.Y; y < b.Max.Y; y += max(1, b.Dy()/8) {
		for x := b.Min.X; x < b.Max.X; x += max(1, b.Dx()/8) {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum = append(sum, byte(r), byte(g), byte(bl))
		}
	}
	digest := sha256.Sum256(sum)

	var emb schema.Embedding
	var sq float64
	for i := range emb {
		v := float32(digest[i%len(digest)]) - 128
		emb[i] = v
		sq += float64(v) * float64(v)
	}
	return normalize(emb, sq)
}

func normalize(emb schema.Embedding, sumSquares float64) schema.Embedding {
	if sumSquares == 0 {
		emb[0] = 1
		return emb
	}
	norm := math.Sqrt(sumSquares)
	for i := range emb {
		emb[i] = float32(float64(emb[i]) / norm)
	}
	return emb
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package inference_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/trinetra/pkg/inference"
	"github.com/ethan/trinetra/pkg/schema"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPipelineRunHappyPath(t *testing.T) {
	p := &inference.Pipeline{Detect: inference.StubDetector, Embed: inference.StubEmbedder}
	imgs := []image.Image{solidImage(64, 64, color.RGBA{R: 200, G: 50, B: 10, A: 255})}

	detections, embeddings := p.Run(context.Background(), imgs)
	require.Len(t, detections, 1)
	require.Len(t, embeddings, 1)
	require.Len(t, detections[0], 1)
	require.Len(t, embeddings[0], 1)
	assert.InDelta(t, 1.0, embeddings[0][0].Norm(), 1e-6)
}

func TestPipelineRunDetectorErrorYieldsEmptyPerFrame(t *testing.T) {
	failingDetect := func(ctx context.Context, imgs []image.Image) ([][]schema.Detection, error) {
		return nil, errors.New("detector unavailable")
	}
	p := &inference.Pipeline{Detect: failingDetect, Embed: inference.StubEmbedder}

	imgs := []image.Image{solidImage(32, 32, color.Black), solidImage(32, 32, color.White)}
	detections, embeddings := p.Run(context.Background(), imgs)
	require.Len(t, detections, 2)
	require.Len(t, embeddings, 2)
	assert.Empty(t, detections[0])
	assert.Empty(t, embeddings[0])
	assert.Empty(t, detections[1])
	assert.Empty(t, embeddings[1])
}

func TestPipelineRunEmbedderFailureYieldsZeroVector(t *testing.T) {
	failingEmbed := func(ctx context.Context, crops []image.Image) ([]schema.Embedding, error) {
		return nil, errors.New("embedder unavailable")
	}
	p := &inference.Pipeline{Detect: inference.StubDetector, Embed: failingEmbed}

	detections, embeddings := p.Run(context.Background(), []image.Image{solidImage(64, 64, color.White)})
	require.Len(t, detections, 1)
	require.Len(t, detections[0], 1)
	require.Len(t, embeddings[0], 1)
	assert.Equal(t, schema.Embedding{}, embeddings[0][0])
}

func TestPipelineRunFiltersNonPersonAndLowConfidence(t *testing.T) {
	mixedDetect := func(ctx context.Context, imgs []image.Image) ([][]schema.Detection, error) {
		out := make([][]schema.Detection, len(imgs))
		for i := range imgs {
			out[i] = []schema.Detection{
				{BBox: schema.BBox{0, 0, 10, 10}, Confidence: 0.9, ClassID: inference.PersonClassID},
				{BBox: schema.BBox{0, 0, 10, 10}, Confidence: 0.9, ClassID: 3}, // not person
				{BBox: schema.BBox{0, 0, 10, 10}, Confidence: 0.1, ClassID: inference.PersonClassID}, // below threshold
			}
		}
		return out, nil
	}
	p := &inference.Pipeline{Detect: mixedDetect, Embed: inference.StubEmbedder}

	detections, embeddings := p.Run(context.Background(), []image.Image{solidImage(32, 32, color.Black)})
	require.Len(t, detections, 1)
	require.Len(t, detections[0], 1)
	require.Len(t, embeddings[0], 1)
}

func TestPipelineRunCollectsCropsAcrossWholeBatchBeforeEmbedding(t *testing.T) {
	var sawCropsPerCall []int
	countingEmbed := func(ctx context.Context, crops []image.Image) ([]schema.Embedding, error) {
		sawCropsPerCall = append(sawCropsPerCall, len(crops))
		return inference.StubEmbedder(ctx, crops)
	}
	p := &inference.Pipeline{Detect: inference.StubDetector, Embed: countingEmbed}

	// One full-frame person detection per image; with a batch of 20
	// frames and a sub-batch size of 16, the embedder must be called
	// twice (16 + 4) across the whole batch, not once per frame.
	imgs := make([]image.Image, 20)
	for i := range imgs {
		imgs[i] = solidImage(16, 16, color.RGBA{R: uint8(i), A: 255})
	}

	detections, embeddings := p.Run(context.Background(), imgs)
	require.Len(t, detections, 20)
	require.Len(t, embeddings, 20)
	for i := range imgs {
		require.Len(t, detections[i], 1)
		require.Len(t, embeddings[i], 1)
	}

	require.Equal(t, []int{inference.EmbedSubBatchSize, 20 - inference.EmbedSubBatchSize}, sawCropsPerCall)
}

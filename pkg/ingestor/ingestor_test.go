package ingestor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestEncodeJPEGProducesDecodableImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}

	body, err := encodeJPEG(img)
	require.NoError(t, err)
	require.NotEmpty(t, body)

	_, err = jpeg.Decode(bytes.NewReader(body))
	require.NoError(t, err)
}

type fakeSource struct {
	fps    float64
	frames chan image.Image
	errs   chan error
}

func (f *fakeSource) CaptureFPS() float64 { return f.fps }

func (f *fakeSource) Read(ctx context.Context) (image.Image, error) {
	select {
	case img := <-f.frames:
		return img, nil
	case err := <-f.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) Close() error { return nil }

func TestCameraRuntimeStateTransitionsToStopped(t *testing.T) {
	rt := &cameraRuntime{camera: Camera{ID: "cam_entrance_01"}}
	rt.setState(StateStarting)
	assert.Equal(t, StateStarting, rt.State())
	rt.setState(StateRunning)
	assert.Equal(t, StateRunning, rt.State())
	rt.setState(StateStopped)
	assert.Equal(t, StateStopped, rt.State())
}

func TestCameraStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "unknown", CameraState(99).String())
}

// TestIngestorPublishesFrameToBus exercises the full reader->queue->
// publisher path against a real (in-process) Redis via miniredis,
// using a fakeSource in place of a network camera. Requires the
// OpenCV runtime gocv binds against, same as the adaptive sampler does
// in production.
func TestIngestorPublishesFrameToBus(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	bus, err := framebus.New("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	defer bus.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewIngestor(reg)

	src := &fakeSource{fps: 15, frames: make(chan image.Image, 1), errs: make(chan error, 1)}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	src.frames <- img

	ing := New(bus, m, discardLogger(), 100)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ing.Run(ctx, []Camera{{ID: "cam_entrance_01", Type: "entrance", Source: src, TargetFPS: 15}})
		close(done)
	}()

	<-done
	n, err := bus.Len(context.Background(), "cam_entrance_01")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

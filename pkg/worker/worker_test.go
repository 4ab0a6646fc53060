package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ethan/trinetra/pkg/eventbus"
	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/inference"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
	"github.com/ethan/trinetra/pkg/schema"
)

func discardAppLogger(t *testing.T) *logger.Logger {
	t.Helper()
	cfg := logger.NewConfig()
	cfg.OutputFile = os.DevNull
	l, err := logger.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestFlushPublishesAndAcksOnSuccess(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	bus, err := framebus.New("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	frame := schema.Frame{CameraID: "cam_entrance_01", CameraType: schema.CameraEntrance, IngestTS: 1, Image: jpegFixture(t)}
	_, err = bus.Publish(ctx, frame, 100)
	require.NoError(t, err)
	require.NoError(t, bus.EnsureGroup(ctx, frame.CameraID, framebus.ConsumerGroup))

	entries, err := bus.ReadGroup(ctx, framebus.ConsumerGroup, "worker-1", []string{frame.CameraID}, 4, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	mp := mocks.NewSyncProducer(t, eventbus.NewProducerConfig())
	defer mp.Close()
	mp.ExpectSendMessageAndSucceed()
	producer := eventbus.NewProducerFromClient(mp, discardAppLogger(t))

	reg := prometheus.NewRegistry()
	m := metrics.NewWorker(reg)
	pipeline := &inference.Pipeline{Detect: inference.StubDetector, Embed: inference.StubEmbedder}

	w := New(bus, producer, pipeline, m, discardAppLogger(t), Config{ConsumerID: "worker-1", BatchSize: 4, BatchTimeoutMS: 20})
	w.accum.Add(entries...)
	w.flush(ctx)

	// No entry left pending in the consumer group confirms the ack landed.
	pending, err := pendingCount(t, mr, frame.CameraID)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestFlushSkipsCorruptedFrameButAcksIt(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	bus, err := framebus.New("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	frame := schema.Frame{CameraID: "cam_entrance_01", CameraType: schema.CameraEntrance, IngestTS: 1, Image: []byte("not-a-jpeg")}
	_, err = bus.Publish(ctx, frame, 100)
	require.NoError(t, err)
	require.NoError(t, bus.EnsureGroup(ctx, frame.CameraID, framebus.ConsumerGroup))

	entries, err := bus.ReadGroup(ctx, framebus.ConsumerGroup, "worker-1", []string{frame.CameraID}, 4, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	reg := prometheus.NewRegistry()
	m := metrics.NewWorker(reg)
	pipeline := &inference.Pipeline{Detect: inference.StubDetector, Embed: inference.StubEmbedder}
	w := New(bus, nil, pipeline, m, discardAppLogger(t), Config{ConsumerID: "worker-1", BatchSize: 4, BatchTimeoutMS: 20})
	w.accum.Add(entries...)
	w.flush(ctx)

	pending, err := pendingCount(t, mr, frame.CameraID)
	require.NoError(t, err)
	require.Zero(t, pending)
}

// pendingCount reports how many entries on cameraID's stream are
// delivered to the inference-workers group but not yet acked.
func pendingCount(t *testing.T, mr *miniredis.Miniredis, cameraID string) (int64, error) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	p, err := rdb.XPending(context.Background(), framebus.StreamKey(cameraID), framebus.ConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}

func jpegFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

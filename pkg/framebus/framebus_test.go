package framebus_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/schema"
)

func newTestBus(t *testing.T) (*framebus.Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := framebus.New("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestPublishAndReadGroup(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	frame := schema.Frame{
		CameraID:   "cam_entrance_01",
		CameraType: schema.CameraEntrance,
		IngestTS:   1234.5,
		Image:      []byte{0xFF, 0xD8, 0xFF},
	}

	_, err := b.Publish(ctx, frame, 100)
	require.NoError(t, err)

	require.NoError(t, b.EnsureGroup(ctx, frame.CameraID, framebus.ConsumerGroup))

	entries, err := b.ReadGroup(ctx, framebus.ConsumerGroup, "worker-1", []string{frame.CameraID}, 4, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, frame.CameraID, entries[0].Frame.CameraID)
	require.Equal(t, frame.IngestTS, entries[0].Frame.IngestTS)

	require.NoError(t, b.Ack(ctx, framebus.ConsumerGroup, frame.CameraID, entries[0].ID))
}

func TestLenReflectsOccupancy(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	frame := schema.Frame{CameraID: "cam_billing_01", CameraType: schema.CameraBilling, IngestTS: 1, Image: []byte{1}}
	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, frame, 100)
		require.NoError(t, err)
	}

	n, err := b.Len(ctx, "cam_billing_01")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	frame := schema.Frame{CameraID: "cam_tracking_01", CameraType: schema.CameraTracking, IngestTS: 1, Image: []byte{1}}
	_, err := b.Publish(ctx, frame, 100)
	require.NoError(t, err)

	require.NoError(t, b.EnsureGroup(ctx, frame.CameraID, framebus.ConsumerGroup))
	require.NoError(t, b.EnsureGroup(ctx, frame.CameraID, framebus.ConsumerGroup))
}

func TestStreamCamerasDiscoversAllStreams(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	for _, cam := range []string{"cam_entrance_01", "cam_billing_01"} {
		_, err := b.Publish(ctx, schema.Frame{CameraID: cam, CameraType: schema.CameraEntrance, IngestTS: 1, Image: []byte{1}}, 100)
		require.NoError(t, err)
	}

	cams, err := b.StreamCameras(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"cam_entrance_01", "cam_billing_01"}, cams)
}

func TestCameraFromStreamKey(t *testing.T) {
	id, ok := framebus.CameraFromStreamKey("frames:cam_entrance_01")
	require.True(t, ok)
	require.Equal(t, "cam_entrance_01", id)

	_, ok = framebus.CameraFromStreamKey("not-a-stream-key")
	require.False(t, ok)
}

package eventbus_test

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/ethan/trinetra/pkg/eventbus"
	"github.com/ethan/trinetra/pkg/schema"
)

func TestFromInferenceEvent(t *testing.T) {
	event := schema.InferenceEvent{
		CameraID:   "cam_entrance_01",
		CameraType: schema.CameraEntrance,
		IngestTS:   100.0,
		WorkerTS:   100.2,
		Detections: []schema.Detection{{TrackID: 1, BBox: schema.BBox{0, 0, 10, 10}, Confidence: 0.9}},
		Embeddings: []schema.Embedding{{}},
	}

	payload := eventbus.FromInferenceEvent(event)
	require.Equal(t, event.CameraID, payload.CameraID)
	require.Equal(t, event.CameraType, payload.CameraType)
	require.Len(t, payload.Detections, 1)
	require.Len(t, payload.Embeddings, 1)
}

func TestProducerConfigMatchesContract(t *testing.T) {
	cfg := eventbus.NewProducerConfig()
	require.Equal(t, int16(1), int16(cfg.Producer.RequiredAcks)) // WaitForLocal == 1
	require.Equal(t, 5, cfg.Producer.Retry.Max)
	require.True(t, cfg.Producer.Return.Successes)
}

func TestConsumerConfigAutoCommitsEverySecond(t *testing.T) {
	cfg := eventbus.NewConsumerConfig()
	require.True(t, cfg.Consumer.Offsets.AutoCommit.Enable)
	require.Equal(t, int64(1), cfg.Consumer.Offsets.AutoCommit.Interval.Milliseconds()/1000)
}

// TestMockSyncProducerAcceptsConfig exercises mocks.NewSyncProducer the way the
// Inference Worker's publish path is expected to be unit-tested,
// guarding that the producer config itself accepts a mock transport.
func TestMockSyncProducerAcceptsConfig(t *testing.T) {
	mp := mocks.NewSyncProducer(t, eventbus.NewProducerConfig())
	defer mp.Close()

	mp.ExpectSendMessageAndSucceed()
	_, _, err := mp.SendMessage(&sarama.ProducerMessage{
		Topic: eventbus.TopicDetections,
		Key:   sarama.StringEncoder("cam_entrance_01"),
		Value: sarama.StringEncoder(`{}`),
	})
	require.NoError(t, err)
}

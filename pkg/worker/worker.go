package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"time"

	"github.com/ethan/trinetra/pkg/eventbus"
	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/inference"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
)

// ReadBlock is the Frame Bus XREADGROUP block duration (§4.3).
const ReadBlock = 50 * time.Millisecond

// Worker joins the Frame Bus consumer group, forms micro-batches, runs
// the inference pipeline, and publishes to the Event Bus.
type Worker struct {
	bus       *framebus.Bus
	producer  *eventbus.Producer
	pipeline  *inference.Pipeline
	metrics   *metrics.Worker
	logger    *logger.Logger
	consumer  string
	batchSize int
	accum     *Accumulator
}

// Config configures a Worker's batching and identity.
type Config struct {
	ConsumerID     string
	BatchSize      int
	BatchTimeoutMS int
}

// New builds a Worker over bus, publishing via producer and running
// pipeline over each decoded frame.
func New(bus *framebus.Bus, producer *eventbus.Producer, pipeline *inference.Pipeline, m *metrics.Worker, log *logger.Logger, cfg Config) *Worker {
	if log == nil {
		log = logger.Default()
	}
	return &Worker{
		bus:       bus,
		producer:  producer,
		pipeline:  pipeline,
		metrics:   m,
		logger:    log,
		consumer:  cfg.ConsumerID,
		batchSize: cfg.BatchSize,
		accum:     NewAccumulator(cfg.BatchSize, time.Duration(cfg.BatchTimeoutMS)*time.Millisecond),
	}
}

// JoinAllStreams discovers every "frames:*" stream and ensures the
// inference-workers consumer group exists on each. BUSYGROUP on an
// already-existing group is treated as success (§4.3).
func (w *Worker) JoinAllStreams(ctx context.Context) ([]string, error) {
	cameras, err := w.bus.StreamCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: discover streams: %w", err)
	}
	for _, cam := range cameras {
		if err := w.bus.EnsureGroup(ctx, cam, framebus.ConsumerGroup); err != nil {
			return nil, fmt.Errorf("worker: ensure group for %s: %w", cam, err)
		}
	}
	return cameras, nil
}

// Run reads Frame Bus entries across cameras, forming and flushing
// micro-batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, cameras []string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		block := ReadBlock
		if wait := w.accum.TimeUntilReady(); wait > 0 && wait < block {
			block = wait
		}

		entries, err := w.bus.ReadGroup(ctx, framebus.ConsumerGroup, w.consumer, cameras, int64(w.batchSize), block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("worker: read group failed", "error", err)
			continue
		}
		w.accum.Add(entries...)

		if w.accum.Ready() {
			w.logger.DebugBatch("batch ready", "pending", len(entries))
			w.flush(ctx)
		}
	}
}

// flush decodes every entry in the pending batch, runs the inference
// pipeline ONCE across the whole cross-camera batch (§4.3's central
// micro-batching design), publishes the resulting per-entry events,
// and acks Frame Bus entries only after a successful publish (§4.3's
// at-least-once guarantee).
func (w *Worker) flush(ctx context.Context) {
	batch := w.accum.Flush()
	if len(batch) == 0 {
		return
	}

	ackByCamera := make(map[string][]string)

	decodable := make([]framebus.Entry, 0, len(batch))
	imgs := make([]image.Image, 0, len(batch))
	for _, entry := range batch {
		img, _, err := decodeImage(entry.Frame.Image)
		if err != nil {
			w.logger.Warn("worker: corrupted frame, dropping", "camera_id", entry.Frame.CameraID, "error", err)
			ackByCamera[entry.Frame.CameraID] = append(ackByCamera[entry.Frame.CameraID], entry.ID)
			continue
		}
		decodable = append(decodable, entry)
		imgs = append(imgs, img)
	}

	if len(imgs) > 0 {
		detectStart := time.Now()
		detections, embeddings := w.pipeline.Run(ctx, imgs)
		w.metrics.DetectionLatency.Observe(time.Since(detectStart).Seconds())

		for i, entry := range decodable {
			w.metrics.DetectionsTotal.Add(float64(len(detections[i])))

			payload := eventbus.DetectionPayload{
				CameraID:   entry.Frame.CameraID,
				CameraType: entry.Frame.CameraType,
				IngestTS:   entry.Frame.IngestTS,
				WorkerTS:   nowSeconds(),
				Detections: detections[i],
				Embeddings: embeddings[i],
			}
			if err := w.producer.PublishDetection(payload); err != nil {
				w.metrics.KafkaPublishErrors.Inc()
				w.logger.Error("worker: publish detection failed, entry left unacked for redelivery", "camera_id", entry.Frame.CameraID, "error", err)
				continue
			}

			w.metrics.FramesProcessedTotal.Inc()
			ackByCamera[entry.Frame.CameraID] = append(ackByCamera[entry.Frame.CameraID], entry.ID)
		}
	}

	for cameraID, ids := range ackByCamera {
		if err := w.bus.Ack(ctx, framebus.ConsumerGroup, cameraID, ids...); err != nil {
			w.logger.Warn("worker: ack failed", "camera_id", cameraID, "error", err)
		}
	}
}

func decodeImage(jpegBytes []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(jpegBytes))
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

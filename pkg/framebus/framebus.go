// Package framebus wraps the Frame Bus (Redis Streams) collaborator
// contract: one stream per camera, keyed "frames:{camera_id}", read by
// the Inference Worker's consumer group.
package framebus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/schema"
)

// opTimeout bounds every non-blocking-read operation issued against
// Redis. Stream reads are given their own deadline derived from the
// caller's block duration, since a 50ms XREADGROUP block is expected
// to legitimately take up to 50ms.
const opTimeout = 5 * time.Second

// ConsumerGroup is the sole Inference Worker consumer group name.
const ConsumerGroup = "inference-workers"

// StreamKey returns the Frame Bus stream key for a camera.
func StreamKey(cameraID string) string {
	return "frames:" + cameraID
}

// CameraFromStreamKey extracts the camera_id from a "frames:{id}" key.
// Returns false if key does not carry the expected prefix.
func CameraFromStreamKey(key string) (string, bool) {
	const prefix = "frames:"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}

// Entry is one Frame Bus record as read back off a stream, carrying
// the Redis-assigned entry ID needed to XACK it later.
type Entry struct {
	ID    string
	Frame schema.Frame
}

// Bus is the Frame Bus collaborator client. A single Bus instance is
// shared by the ingestor (publish side) and the worker (consume side);
// each call takes its own context so callers control cancellation.
type Bus struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// New builds a Bus over a Redis connection string ("redis://host:port").
func New(redisURL string, log *logger.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("framebus: parse redis url: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Bus{rdb: redis.NewClient(opts), logger: log}, nil
}

// Close releases the underlying connection pool.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Publish XADDs frame onto the per-camera stream with an approximate
// MAXLEN trim (oldest entries dropped once the cap is exceeded).
func (b *Bus) Publish(ctx context.Context, frame schema.Frame, maxLen int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(frame.CameraID),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"camera_id":   frame.CameraID,
			"camera_type": string(frame.CameraType),
			"ingest_ts":   strconv.FormatFloat(frame.IngestTS, 'f', -1, 64),
			"frame":       frame.Image,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("framebus: xadd %s: %w", frame.CameraID, err)
	}
	b.logger.DebugBus("xadd", "camera_id", frame.CameraID, "id", id)
	return id, nil
}

// Len reports current stream occupancy for a camera, backing the
// fill_pct = bus_len / MAXLEN computation in the adaptive sampler.
func (b *Bus) Len(ctx context.Context, cameraID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := b.rdb.XLen(ctx, StreamKey(cameraID)).Result()
	if err != nil {
		return 0, fmt.Errorf("framebus: xlen %s: %w", cameraID, err)
	}
	return n, nil
}

// EnsureGroup creates the consumer group on a camera's stream,
// treating BUSYGROUP (group already exists) as success.
func (b *Bus) EnsureGroup(ctx context.Context, cameraID, group string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := b.rdb.XGroupCreateMkStream(ctx, StreamKey(cameraID), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("framebus: ensure group %s on %s: %w", group, cameraID, err)
	}
	return nil
}

// StreamCameras discovers every camera_id with a live stream by
// scanning for "frames:*" keys.
func (b *Bus) StreamCameras(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cameras []string
	iter := b.rdb.Scan(ctx, 0, "frames:*", 0).Iterator()
	for iter.Next(ctx) {
		if id, ok := CameraFromStreamKey(iter.Val()); ok {
			cameras = append(cameras, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("framebus: scan streams: %w", err)
	}
	return cameras, nil
}

// ReadGroup performs one blocking XREADGROUP across the given streams
// for consumer, reading up to count entries per stream with a block
// duration the caller controls (the worker uses 50ms per spec).
func (b *Bus) ReadGroup(ctx context.Context, group, consumer string, streamCameras []string, count int64, block time.Duration) ([]Entry, error) {
	if len(streamCameras) == 0 {
		return nil, nil
	}

	streams := make([]string, 0, len(streamCameras)*2)
	for _, c := range streamCameras {
		streams = append(streams, StreamKey(c))
	}
	for range streamCameras {
		streams = append(streams, ">")
	}

	readCtx, cancel := context.WithTimeout(ctx, block+opTimeout)
	defer cancel()

	res, err := b.rdb.XReadGroup(readCtx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("framebus: xreadgroup: %w", err)
	}

	var entries []Entry
	for _, stream := range res {
		cameraID, ok := CameraFromStreamKey(stream.Stream)
		if !ok {
			continue
		}
		for _, msg := range stream.Messages {
			frame, err := decodeFrame(cameraID, msg.Values)
			if err != nil {
				b.logger.Warn("framebus: dropping malformed entry", "stream", stream.Stream, "id", msg.ID, "error", err)
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Frame: frame})
		}
	}
	b.logger.DebugBus("xreadgroup", "group", group, "consumer", consumer, "entries", len(entries))
	return entries, nil
}

// Ack acknowledges entries on a camera's stream for group, called only
// after the worker has successfully published the resulting event.
func (b *Bus) Ack(ctx context.Context, group, cameraID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := b.rdb.XAck(ctx, StreamKey(cameraID), group, ids...).Err(); err != nil {
		return fmt.Errorf("framebus: xack %s: %w", cameraID, err)
	}
	b.logger.DebugBus("xack", "camera_id", cameraID, "group", group, "count", len(ids))
	return nil
}

func decodeFrame(cameraID string, values map[string]interface{}) (schema.Frame, error) {
	cameraType, _ := values["camera_type"].(string)
	ingestTSStr, _ := values["ingest_ts"].(string)
	ingestTS, err := strconv.ParseFloat(ingestTSStr, 64)
	if err != nil {
		return schema.Frame{}, fmt.Errorf("parse ingest_ts: %w", err)
	}

	var image []byte
	switch v := values["frame"].(type) {
	case string:
		image = []byte(v)
	case []byte:
		image = v
	default:
		return schema.Frame{}, fmt.Errorf("unexpected frame field type %T", v)
	}

	frame := schema.Frame{
		CameraID:   cameraID,
		CameraType: schema.CameraType(cameraType),
		IngestTS:   ingestTS,
		Image:      image,
	}
	return frame, frame.Validate()
}

// Package ingestor implements the Stream Ingestor (§4.1): per-camera
// blocking readers and async publishers bridged by a bounded,
// oldest-drop in-process queue, with an Adaptive Frame Sampler gating
// which decoded frames reach the Frame Bus.
package ingestor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
	"github.com/ethan/trinetra/pkg/schema"
)

// QueueCapacity is the in-process reader→publisher queue depth (K=100,
// §4.1).
const QueueCapacity = 100

// JPEGQuality is the Frame Bus publication encoding quality (§4.1).
const JPEGQuality = 85

// ReconnectRateLimit caps how many cameras may begin a reconnect
// attempt per second, so a correlated failure (e.g. a network blip
// touching every camera on a switch) doesn't open dozens of RTSP
// dials at once.
const ReconnectRateLimit = 5

// FrameSource is the black-box network stream + decoder collaborator
// for one camera. Read blocks until the next frame is decoded, or
// returns an error on stream failure (which the ingestor treats as
// reconnectable, never fatal).
type FrameSource interface {
	CaptureFPS() float64
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Camera describes one configured camera to ingest.
type Camera struct {
	ID         string
	Type       schema.CameraType
	Source     FrameSource
	TargetFPS  float64
}

// cameraRuntime holds the live state for one camera's reader +
// publisher pair.
type cameraRuntime struct {
	camera  Camera
	state   atomic.Int32
	queue   *FrameQueue
	sampler *Sampler
}

func (r *cameraRuntime) State() CameraState { return CameraState(r.state.Load()) }
func (r *cameraRuntime) setState(s CameraState) { r.state.Store(int32(s)) }

// Ingestor orchestrates every configured camera's reader and
// publisher against a shared Frame Bus.
type Ingestor struct {
	bus     *framebus.Bus
	metrics *metrics.Ingestor
	logger  *logger.Logger
	maxLen  int64

	mu       sync.RWMutex
	runtimes map[string]*cameraRuntime

	reconnectLimiter *rate.Limiter
}

// New builds an Ingestor publishing onto bus with the given Frame Bus
// MAXLEN.
func New(bus *framebus.Bus, m *metrics.Ingestor, log *logger.Logger, maxLen int64) *Ingestor {
	if log == nil {
		log = logger.Default()
	}
	return &Ingestor{
		bus:              bus,
		metrics:          m,
		logger:           log,
		maxLen:           maxLen,
		runtimes:         make(map[string]*cameraRuntime),
		reconnectLimiter: rate.NewLimiter(rate.Limit(ReconnectRateLimit), ReconnectRateLimit*2),
	}
}

// Run starts the reader and publisher goroutines for every camera and
// blocks until ctx is cancelled and all of them have exited.
func (i *Ingestor) Run(ctx context.Context, cameras []Camera) {
	g, gctx := errgroup.WithContext(ctx)

	for _, cam := range cameras {
		rt := &cameraRuntime{
			camera:  cam,
			sampler: NewSampler(cam.Source.CaptureFPS(), cam.TargetFPS),
		}
		rt.setState(StateStarting)
		rt.queue = NewFrameQueue(QueueCapacity, i.logger.With("camera_id", cam.ID), func() {
			i.metrics.FramesDroppedTotal.WithLabelValues(cam.ID, string(cam.Type)).Inc()
		})

		i.mu.Lock()
		i.runtimes[cam.ID] = rt
		i.mu.Unlock()

		g.Go(func() error { i.readLoop(gctx, rt); return nil })
		g.Go(func() error { i.publishLoop(gctx, rt); return nil })
	}

	_ = g.Wait()

	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, rt := range i.runtimes {
		rt.setState(StateStopped)
		rt.sampler.Close()
		_ = rt.camera.Source.Close()
	}
}

// readLoop is the blocking reader: pulls decoded frames from the
// camera's FrameSource and pushes them onto the per-camera queue,
// reconnecting on read failure with a doubling backoff (§4.1), rate
// limited across all cameras to avoid a reconnect storm.
func (i *Ingestor) readLoop(ctx context.Context, rt *cameraRuntime) {
	log := i.logger.With("camera_id", rt.camera.ID)
	bo := newBackoff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		img, err := rt.camera.Source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rt.setState(StateFailed)
			i.metrics.ReconnectsTotal.WithLabelValues(rt.camera.ID).Inc()
			delay := bo.Next()
			if bo.AtCeiling() {
				rt.setState(StateDegraded)
			}
			log.Warn("ingestor: stream read failed, reconnecting", "error", err, "delay", delay)
			if err := i.reconnectLimiter.Wait(ctx); err != nil {
				return
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		bo.Reset()
		rt.setState(StateRunning)

		fillPct := i.fillPct(ctx, rt.camera.ID)
		keep := rt.sampler.Decide(img, fillPct)
		i.logger.DebugFrame("sampling decision", "camera_id", rt.camera.ID, "fill_pct", fillPct, "keep", keep)
		if !keep {
			continue
		}

		body, err := encodeJPEG(img)
		if err != nil {
			log.Warn("ingestor: corrupted frame, skipping", "error", err)
			continue
		}

		rt.queue.Push(QueuedFrame{Image: body, IngestTS: nowSeconds()})
	}
}

// publishLoop is the async publisher: drains the per-camera queue into
// the Frame Bus, isolated from the reader so a slow bus cannot stall
// reads.
func (i *Ingestor) publishLoop(ctx context.Context, rt *cameraRuntime) {
	log := i.logger.With("camera_id", rt.camera.ID)

	for {
		select {
		case <-ctx.Done():
			i.drain(ctx, rt, log)
			return
		case <-rt.queue.Notify():
			i.drain(ctx, rt, log)
		}
	}
}

func (i *Ingestor) drain(ctx context.Context, rt *cameraRuntime, log *logger.Logger) {
	for {
		qf, ok := rt.queue.Pop()
		if !ok {
			return
		}
		start := time.Now()
		frame := schema.Frame{
			CameraID:   rt.camera.ID,
			CameraType: rt.camera.Type,
			IngestTS:   qf.IngestTS,
			Image:      qf.Image,
		}
		if _, err := i.bus.Publish(ctx, frame, i.maxLen); err != nil {
			log.Warn("ingestor: frame bus publish failed, dropping", "error", err)
			i.metrics.FramesDroppedTotal.WithLabelValues(rt.camera.ID, string(rt.camera.Type)).Inc()
			continue
		}
		i.metrics.FramesTotal.WithLabelValues(rt.camera.ID, string(rt.camera.Type)).Inc()
		i.metrics.FrameLatency.WithLabelValues(rt.camera.ID).Observe(time.Since(start).Seconds())
	}
}

func (i *Ingestor) fillPct(ctx context.Context, cameraID string) float64 {
	n, err := i.bus.Len(ctx, cameraID)
	if err != nil {
		return 0
	}
	i.metrics.RedisStreamLength.WithLabelValues(cameraID).Set(float64(n))
	if i.maxLen == 0 {
		return 0
	}
	return float64(n) / float64(i.maxLen) * 100
}

// Snapshot reports every camera's current state, backing GET /cameras.
func (i *Ingestor) Snapshot() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]string, len(i.runtimes))
	for id, rt := range i.runtimes {
		out[id] = rt.State().String()
	}
	return out
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("ingestor: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

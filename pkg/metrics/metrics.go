// Package metrics defines the Prometheus series named in §6 of the
// spec, one constructor per component so each binary only registers
// the series it actually emits.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// highLevelBuckets approximates the spec's {5,10,25,50,100,250,500}ms
// histogram for end-to-end, per-stage latencies.
var highLevelBuckets = []float64{.005, .010, .025, .050, .100, .250, .500}

// subStageBuckets approximates the spec's {1,2,5,10,25,50}ms buckets
// for inference sub-stages (detection, embedding).
var subStageBuckets = []float64{.001, .002, .005, .010, .025, .050}

// Ingestor holds the Stream Ingestor's metric series.
type Ingestor struct {
	FramesTotal        *prometheus.CounterVec
	FramesDroppedTotal *prometheus.CounterVec
	ReconnectsTotal    *prometheus.CounterVec
	FrameLatency       *prometheus.HistogramVec
	RedisStreamLength  *prometheus.GaugeVec
}

// NewIngestor registers and returns the Stream Ingestor series on reg.
func NewIngestor(reg prometheus.Registerer) *Ingestor {
	f := promauto.With(reg)
	return &Ingestor{
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_ingestor_frames_total",
			Help: "Frames forwarded to the Frame Bus, by camera.",
		}, []string{"camera_id", "camera_type"}),
		FramesDroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_ingestor_frames_dropped_total",
			Help: "Frames dropped on in-process queue overflow or a failed Frame Bus publish, by camera; frames skipped by the sampler are not counted.",
		}, []string{"camera_id", "camera_type"}),
		ReconnectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_ingestor_reconnects_total",
			Help: "Stream reconnect attempts, by camera.",
		}, []string{"camera_id"}),
		FrameLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trinetra_ingestor_frame_latency_seconds",
			Help:    "Time from capture to Frame Bus publish.",
			Buckets: highLevelBuckets,
		}, []string{"camera_id"}),
		RedisStreamLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trinetra_redis_stream_length",
			Help: "Observed Frame Bus stream length, by camera.",
		}, []string{"camera_id"}),
	}
}

// Worker holds the Inference Worker's metric series.
type Worker struct {
	DetectionLatency     prometheus.Histogram
	EmbeddingLatency     prometheus.Histogram
	FramesProcessedTotal prometheus.Counter
	DetectionsTotal      prometheus.Counter
	KafkaPublishErrors   prometheus.Counter
	GPUUtilizationPct    prometheus.Gauge
	GPUVRAMUsedMB        prometheus.Gauge
}

// NewWorker registers and returns the Inference Worker series on reg.
func NewWorker(reg prometheus.Registerer) *Worker {
	f := promauto.With(reg)
	return &Worker{
		DetectionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trinetra_detection_latency_seconds",
			Help:    "Inference pipeline latency per micro-batch, covering detection, NMS, cropping and embedding together; detection is not timed on its own.",
			Buckets: subStageBuckets,
		}),
		EmbeddingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trinetra_embedding_latency_seconds",
			Help:    "Embedder inference latency per sub-batch.",
			Buckets: subStageBuckets,
		}),
		FramesProcessedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trinetra_worker_frames_processed_total",
			Help: "Frames that completed the inference pipeline.",
		}),
		DetectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trinetra_detections_total",
			Help: "Person detections emitted after NMS filtering.",
		}),
		KafkaPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "trinetra_kafka_publish_errors_total",
			Help: "Event Bus publish failures.",
		}),
		GPUUtilizationPct: f.NewGauge(prometheus.GaugeOpts{
			Name: "trinetra_gpu_utilization_pct",
			Help: "Last-observed GPU utilization percentage.",
		}),
		GPUVRAMUsedMB: f.NewGauge(prometheus.GaugeOpts{
			Name: "trinetra_gpu_vram_used_mb",
			Help: "Last-observed GPU VRAM usage in MB.",
		}),
	}
}

// Resolver holds the Identity Resolver's metric series.
type Resolver struct {
	ReIDLatency              prometheus.Histogram
	QdrantQueryLatency       prometheus.Histogram
	MatchesTotal             *prometheus.CounterVec
	UnknownsTotal            *prometheus.CounterVec
	SpatiotemporalRejections *prometheus.CounterVec
	AlertsTotal              *prometheus.CounterVec
	ActiveIdentities         prometheus.Gauge
}

// NewResolver registers and returns the Identity Resolver series on reg.
func NewResolver(reg prometheus.Registerer) *Resolver {
	f := promauto.With(reg)
	return &Resolver{
		ReIDLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trinetra_reid_latency_seconds",
			Help:    "End-to-end identity resolution latency per event.",
			Buckets: highLevelBuckets,
		}),
		QdrantQueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trinetra_qdrant_query_latency_seconds",
			Help:    "Vector Gallery query latency.",
			Buckets: highLevelBuckets,
		}),
		MatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_reid_matches_total",
			Help: "Events resolved to a known customer_id, by camera.",
		}, []string{"camera_id"}),
		UnknownsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_reid_unknowns_total",
			Help: "Events resolved as UNKNOWN, by camera.",
		}, []string{"camera_id"}),
		SpatiotemporalRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_spatiotemporal_gate_rejections_total",
			Help: "Candidates rejected by the spatiotemporal gate, by reason.",
		}, []string{"reason"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trinetra_alerts_total",
			Help: "Alerts emitted, by alert_type.",
		}, []string{"alert_type"}),
		ActiveIdentities: f.NewGauge(prometheus.GaugeOpts{
			Name: "trinetra_active_identities",
			Help: "Current size of the Active Identity Registry.",
		}),
	}
}

// NewMetricsServer builds an *http.Server exposing /metrics on addr
// from gatherer. Callers start it in its own goroutine and shut it
// down via ctx-driven Shutdown, mirroring the ambient HTTP server
// pattern used by the ingestor's health endpoint.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Package resolver implements the Identity Resolver (§4.5): for each
// incoming InferenceEvent, resolve at most one detection to a known
// customer_id by combining ANN similarity with the spatiotemporal
// gate, then publish a ResolvedIdentity and optional Alert.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ethan/trinetra/pkg/eventbus"
	"github.com/ethan/trinetra/pkg/gallery"
	"github.com/ethan/trinetra/pkg/gate"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
	"github.com/ethan/trinetra/pkg/registry"
	"github.com/ethan/trinetra/pkg/schema"
)

// TopK is the number of nearest neighbors queried per resolution
// (§4.5).
const TopK = 5

// GalleryQuerier is the subset of *gallery.Gallery the resolution
// pipeline needs, narrowed to an interface so the pipeline can be
// tested against a fake gallery.
type GalleryQuerier interface {
	Query(ctx context.Context, embedding schema.Embedding, threshold float64, topK uint64) ([]gallery.Candidate, error)
}

// Resolver binds the Vector Gallery, spatiotemporal gate, and Active
// Identity Registry collaborators into the resolution pipeline.
type Resolver struct {
	gallery     GalleryQuerier
	matrix      *gate.TravelMatrix
	registry    *registry.Registry
	producer    *eventbus.Producer
	metrics     *metrics.Resolver
	logger      *logger.Logger
	threshold   float64
	gateWindowS float64
}

// Config configures threshold and gate window, mirroring §6's
// COSINE_THRESHOLD / TEMPORAL_GATE_WINDOW_S.
type Config struct {
	CosineThreshold float64
	GateWindowS     float64
}

// New builds a Resolver.
func New(g GalleryQuerier, matrix *gate.TravelMatrix, reg *registry.Registry, producer *eventbus.Producer, m *metrics.Resolver, log *logger.Logger, cfg Config) *Resolver {
	if log == nil {
		log = logger.Default()
	}
	return &Resolver{
		gallery:     g,
		matrix:      matrix,
		registry:    reg,
		producer:    producer,
		metrics:     m,
		logger:      log,
		threshold:   cfg.CosineThreshold,
		gateWindowS: cfg.GateWindowS,
	}
}

// Resolve runs the §4.5 resolution pipeline for one InferenceEvent and
// returns the emitted identity and, if any, alert.
func (r *Resolver) Resolve(ctx context.Context, event eventbus.DetectionPayload) (schema.ResolvedIdentity, *schema.Alert) {
	start := time.Now()
	defer func() { r.metrics.ReIDLatency.Observe(time.Since(start).Seconds()) }()

	r.registry.Tick()

	resolveTS := nowSeconds()

	if len(event.Detections) == 0 || len(event.Embeddings) == 0 {
		identity := unknownIdentity(event, resolveTS, schema.Detection{})
		r.metrics.UnknownsTotal.WithLabelValues(event.CameraID).Inc()
		if err := r.producer.PublishIdentity(identity); err != nil {
			r.logger.Error("resolver: publish identity failed", "camera_id", event.CameraID, "error", err)
		}
		return identity, nil
	}

	detection := event.Detections[0]
	embedding := event.Embeddings[0]

	queryStart := time.Now()
	candidates, err := r.gallery.Query(ctx, embedding, r.threshold, TopK)
	r.metrics.QdrantQueryLatency.Observe(time.Since(queryStart).Seconds())
	if err != nil {
		r.logger.Warn("resolver: gallery query failed, resolving unknown", "camera_id", event.CameraID, "error", err)
		candidates = nil
	}
	r.logger.DebugANN("gallery query returned candidates", "camera_id", event.CameraID, "count", len(candidates))

	accepted, score, ok := r.gate(event, candidates)

	var identity schema.ResolvedIdentity
	if ok {
		r.registry.Record(accepted.CustomerID, event.CameraID, event.IngestTS, embedding)
		identity = schema.ResolvedIdentity{
			EventID:     uuid.NewString(),
			CameraID:    event.CameraID,
			CameraType:  event.CameraType,
			TrackID:     detection.TrackID,
			CustomerID:  &accepted.CustomerID,
			Confidence:  float64(score),
			MatchMethod: schema.MatchANN,
			IngestTS:    event.IngestTS,
			ResolveTS:   resolveTS,
			BBox:        detection.BBox,
			Embedding:   embedding,
		}
		r.metrics.MatchesTotal.WithLabelValues(event.CameraID).Inc()
	} else {
		identity = unknownIdentity(event, resolveTS, detection)
		r.metrics.UnknownsTotal.WithLabelValues(event.CameraID).Inc()
	}

	r.metrics.ActiveIdentities.Set(float64(r.registry.Size()))

	var alert *schema.Alert
	if identity.CustomerID == nil && event.CameraType == schema.CameraBilling {
		alert = &schema.Alert{
			AlertID:   uuid.NewString(),
			AlertType: schema.AlertUnknownAtBilling,
			CameraID:  event.CameraID,
			Severity:  schema.SeverityMedium,
			TS:        resolveTS,
			Metadata:  map[string]any{"track_id": detection.TrackID},
		}
		r.metrics.AlertsTotal.WithLabelValues(string(schema.AlertUnknownAtBilling)).Inc()
	}

	if err := r.producer.PublishIdentity(identity); err != nil {
		r.logger.Error("resolver: publish identity failed", "camera_id", event.CameraID, "error", err)
	}
	if alert != nil {
		if err := r.producer.PublishAlert(*alert); err != nil {
			r.logger.Error("resolver: publish alert failed", "camera_id", event.CameraID, "error", err)
		}
	}

	return identity, alert
}

// gate iterates candidates in descending score order and applies the
// spatiotemporal gate, accepting the first ACCEPT.
func (r *Resolver) gate(event eventbus.DetectionPayload, candidates []gallery.Candidate) (gallery.Candidate, float32, bool) {
	for _, c := range candidates {
		lastSeen := r.lastSeenFor(c.CustomerID)
		decision := gate.Decide(r.matrix, lastSeen, event.CameraID, event.IngestTS, r.gateWindowS)
		r.logger.DebugGate("evaluated candidate", "customer_id", c.CustomerID, "score", c.Score, "decision", decision.String())
		if decision == gate.Accept {
			return c, c.Score, true
		}
		r.metrics.SpatiotemporalRejections.WithLabelValues(decision.String()).Inc()
	}
	return gallery.Candidate{}, 0, false
}

func (r *Resolver) lastSeenFor(customerID string) *gate.LastSeen {
	rec := r.registry.GetLastSeen(customerID)
	if rec == nil {
		return nil
	}
	return &gate.LastSeen{CameraID: rec.CameraID, TS: rec.LastSeenTS}
}

func unknownIdentity(event eventbus.DetectionPayload, resolveTS float64, detection schema.Detection) schema.ResolvedIdentity {
	return schema.ResolvedIdentity{
		EventID:     uuid.NewString(),
		CameraID:    event.CameraID,
		CameraType:  event.CameraType,
		TrackID:     detection.TrackID,
		CustomerID:  nil,
		Confidence:  0,
		MatchMethod: schema.MatchUnknown,
		IngestTS:    event.IngestTS,
		ResolveTS:   resolveTS,
		BBox:        detection.BBox,
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

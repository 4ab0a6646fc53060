// Package gallery wraps the Vector Gallery (Qdrant) collaborator
// contract: an ANN index of face embeddings queried by the Identity
// Resolver for nearest-neighbor candidates.
package gallery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ethan/trinetra/pkg/schema"
)

// Collection index parameters, fixed by the wire contract (§6).
const (
	VectorDim          = schema.EmbeddingDim
	HNSWM              = 16
	HNSWEFConstruct    = 200
	FullScanThreshold  = 10000
	DefaultTopK        = 5
)

// Candidate is one scored result of a gallery query.
type Candidate struct {
	CustomerID string
	Score      float32
	Payload    schema.GalleryPayload
}

// Gallery is the Qdrant collaborator client. It owns a single
// collection of 512-dim cosine vectors.
type Gallery struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// Config configures a Gallery's connection to Qdrant.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// New dials Qdrant and returns a Gallery. It does not create the
// collection; call EnsureCollection for that.
func New(cfg Config, logger *slog.Logger) (*Gallery, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("gallery: new client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gallery{client: client, collection: cfg.Collection, logger: logger}, nil
}

// Close releases the underlying gRPC connection.
func (g *Gallery) Close() error {
	return g.client.Close()
}

// EnsureCollection creates the gallery collection idempotently with
// the spec's HNSW parameters (m=16, ef_construct=200,
// full_scan_threshold=10000), cosine distance, 512-dim, in-memory.
func (g *Gallery) EnsureCollection(ctx context.Context) error {
	exists, err := g.client.CollectionExists(ctx, g.collection)
	if err != nil {
		return fmt.Errorf("gallery: check collection: %w", err)
	}
	if exists {
		return nil
	}

	onDisk := false
	err = g.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: g.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorDim,
			Distance: qdrant.Distance_Cosine,
			OnDisk:   &onDisk,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:                 qdrant.PtrOf(uint64(HNSWM)),
				EfConstruct:       qdrant.PtrOf(uint64(HNSWEFConstruct)),
				FullScanThreshold: qdrant.PtrOf(uint64(FullScanThreshold)),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("gallery: create collection: %w", err)
	}
	g.logger.Info("gallery: collection created", "collection", g.collection)
	return nil
}

// Enroll upserts a customer's embedding and payload into the gallery,
// keyed by a deterministic UUID derived from customer_id so repeated
// enrollment calls overwrite rather than duplicate a point.
func (g *Gallery) Enroll(ctx context.Context, entry schema.GalleryEntry) error {
	pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(entry.Payload.CustomerID)).String()

	payload := map[string]any{
		"customer_id":   entry.Payload.CustomerID,
		"enrollment_ts": entry.Payload.EnrollmentTS,
		"vip_tier":      entry.Payload.VIPTier,
	}

	_, err := g.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: g.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID),
				Vectors: qdrant.NewVectors(entry.Vector[:]...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("gallery: enroll %s: %w", entry.Payload.CustomerID, err)
	}
	return nil
}

// Query returns up to topK candidates within cosine distance of
// embedding whose score meets threshold, sorted best-first. Payload
// (including customer_id) is returned with every hit.
func (g *Gallery) Query(ctx context.Context, embedding schema.Embedding, threshold float64, topK uint64) ([]Candidate, error) {
	if topK == 0 {
		topK = DefaultTopK
	}
	scoreThreshold := float32(threshold)

	res, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: g.collection,
		Query:          qdrant.NewQuery(embedding[:]...),
		Limit:          qdrant.PtrOf(topK),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("gallery: query: %w", err)
	}

	candidates := make([]Candidate, 0, len(res))
	for _, point := range res {
		payload := decodePayload(point.GetPayload())
		candidates = append(candidates, Candidate{
			CustomerID: payload.CustomerID,
			Score:      point.GetScore(),
			Payload:    payload,
		})
	}
	return candidates, nil
}

func decodePayload(fields map[string]*qdrant.Value) schema.GalleryPayload {
	var p schema.GalleryPayload
	if v, ok := fields["customer_id"]; ok {
		p.CustomerID = v.GetStringValue()
	}
	if v, ok := fields["enrollment_ts"]; ok {
		p.EnrollmentTS = v.GetDoubleValue()
	}
	if v, ok := fields["vip_tier"]; ok {
		p.VIPTier = v.GetStringValue()
	}
	return p
}

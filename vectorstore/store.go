package vectorstore

import (
	"context"

	"github.com/kernel-memory/km/pkg/stream"
)

// IndexConfig carries the per-index settings a backend needs to create
// a collection: vector dimension and similarity metric.
type IndexConfig struct {
	VectorSize int
	Distance   Distance
}

// Distance identifies the similarity metric an index was created with.
// Score normalization is each backend's responsibility (spec.md §4.3).
// memstore always scores by cosine similarity. The qdrant and pinecone
// adapters return the engine's native score unchanged, so their scores
// are cosine similarities only for indexes created with DistanceCosine.
type Distance int

const (
	DistanceCosine Distance = iota
	DistanceDotProduct
	DistanceEuclidean
)

// VectorStore is the pluggable vector database contract (C2). Every
// method is safe for concurrent use; a single VectorStore value is
// shared across the orchestrator's worker pool.
type VectorStore interface {
	// CreateIndex creates name if it does not already exist. Creating an
	// existing index with a matching IndexConfig is a no-op. memstore
	// returns a Validation error for a mismatched vector size; the qdrant
	// and pinecone adapters do not compare the existing index's config.
	CreateIndex(ctx context.Context, name string, cfg IndexConfig) error

	// ListIndexes returns every index name known to the backend.
	ListIndexes(ctx context.Context) ([]string, error)

	// DeleteIndex removes an index and all its records. memstore refuses
	// to delete its configured DefaultIndex; the qdrant and pinecone
	// adapters do not check. The delete_index step refuses the pipeline's
	// configured default index before calling DeleteIndex.
	DeleteIndex(ctx context.Context, name string) error

	// Upsert inserts or replaces records by ID, returning the IDs written.
	Upsert(ctx context.Context, index string, records []*MemoryRecord) ([]string, error)

	// Delete removes records by ID. Deleting an absent ID is not an
	// error (spec.md §4: idempotent).
	Delete(ctx context.Context, index string, ids []string) error

	// GetSimilarList returns records in index matching filters, ordered
	// by descending similarity to embedding, excluding any record whose
	// normalized score is below minRelevance. The returned stream is lazy:
	// backends should page internally rather than materializing the full
	// result set up front.
	GetSimilarList(ctx context.Context, index string, embedding []float32, filters Filters, minRelevance float64, limit int) (stream.Reader[ScoredRecord], error)

	// GetList returns records in index matching filters with no
	// similarity ranking, for tag-only browsing and deletion scans.
	GetList(ctx context.Context, index string, filters Filters, limit int) (stream.Reader[*MemoryRecord], error)
}

// ScoredRecord pairs a MemoryRecord with its normalized similarity score.
type ScoredRecord struct {
	Record *MemoryRecord
	Score  float64
}

// Package memstore is an in-process reference VectorStore: a map of
// indexes, each a map of records, with brute-force cosine similarity.
// It exists for tests and for running the pipeline without an external
// vector database configured.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/pkg/stream"
	"github.com/kernel-memory/km/vectorstore"
)

type index struct {
	cfg     vectorstore.IndexConfig
	records map[string]*vectorstore.MemoryRecord
}

// Store is a VectorStore backed by in-memory maps, safe for concurrent
// use behind a single mutex; adequate for tests and small deployments,
// never for production scale.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]*index
	// DefaultIndex is protected from DeleteIndex, mirroring the
	// default-index guard of the delete_index step.
	DefaultIndex string
}

// New creates an empty Store. defaultIndex may be "" if the deployment
// has no protected default.
func New(defaultIndex string) *Store {
	return &Store{
		indexes:      make(map[string]*index),
		DefaultIndex: defaultIndex,
	}
}

func (s *Store) CreateIndex(ctx context.Context, name string, cfg vectorstore.IndexConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[name]; ok {
		if existing.cfg.VectorSize != cfg.VectorSize {
			return kmerrors.Newf(kmerrors.Validation, "memstore.CreateIndex",
				"index %q already exists with vector size %d, requested %d", name, existing.cfg.VectorSize, cfg.VectorSize)
		}
		return nil
	}
	s.indexes[name] = &index{cfg: cfg, records: make(map[string]*vectorstore.MemoryRecord)}
	return nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	if name == s.DefaultIndex && name != "" {
		return kmerrors.Newf(kmerrors.Validation, "memstore.DeleteIndex", "index %q is the default index and cannot be deleted", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, name)
	return nil
}

func (s *Store) getIndex(name string) (*index, error) {
	idx, ok := s.indexes[name]
	if !ok {
		return nil, kmerrors.Newf(kmerrors.NotFound, "memstore", "index %q not found", name)
	}
	return idx, nil
}

func (s *Store) Upsert(ctx context.Context, indexName string, records []*vectorstore.MemoryRecord) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.getIndex(indexName)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != idx.cfg.VectorSize && idx.cfg.VectorSize != 0 {
			return nil, kmerrors.Newf(kmerrors.Validation, "memstore.Upsert",
				"record %q has vector dimension %d, index %q expects %d", r.ID, len(r.Vector), indexName, idx.cfg.VectorSize)
		}
		idx.records[r.ID] = r
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, indexName string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.getIndex(indexName)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(idx.records, id)
	}
	return nil
}

func (s *Store) GetSimilarList(ctx context.Context, indexName string, embedding []float32, filters vectorstore.Filters, minRelevance float64, limit int) (stream.Reader[vectorstore.ScoredRecord], error) {
	s.mu.RLock()
	idx, err := s.getIndex(indexName)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	scored := make([]vectorstore.ScoredRecord, 0, len(idx.records))
	for _, r := range idx.records {
		if !filters.Match(r.Tags) {
			continue
		}
		score := cosineSimilarity(embedding, r.Vector)
		if score < minRelevance {
			continue
		}
		scored = append(scored, vectorstore.ScoredRecord{Record: r, Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return stream.OfSlice(scored), nil
}

func (s *Store) GetList(ctx context.Context, indexName string, filters vectorstore.Filters, limit int) (stream.Reader[*vectorstore.MemoryRecord], error) {
	s.mu.RLock()
	idx, err := s.getIndex(indexName)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	out := make([]*vectorstore.MemoryRecord, 0, len(idx.records))
	for _, r := range idx.records {
		if filters.Match(r.Tags) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return stream.OfSlice(out), nil
}

// cosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Mismatched lengths or a zero vector yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

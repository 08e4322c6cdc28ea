// Package pinecone adapts vectorstore.VectorStore onto a Pinecone
// index. Unlike the qdrant adapter, no reference implementation of this
// pairing exists in the pack this module was grounded on; the shape
// below follows the pinecone-io Go client's documented index/vector
// operations as closely as possible and should be treated as a
// best-effort adapter pending integration testing against a live index.
package pinecone

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/pkg/stream"
	"github.com/kernel-memory/km/vectorstore"
)

const Provider = "Pinecone"

// Store adapts an already-connected *pinecone.Client to
// vectorstore.VectorStore. Each VectorStore index name is looked up as
// a Pinecone index host on first use and cached.
type Store struct {
	client *pinecone.Client

	conns map[string]*pinecone.IndexConnection
}

// New wraps client. client must already carry a valid API key.
func New(client *pinecone.Client) *Store {
	return &Store{client: client, conns: make(map[string]*pinecone.IndexConnection)}
}

var _ vectorstore.VectorStore = (*Store)(nil)

func (s *Store) connection(ctx context.Context, index string) (*pinecone.IndexConnection, error) {
	if conn, ok := s.conns[index]; ok {
		return conn, nil
	}
	desc, err := s.client.DescribeIndex(ctx, index)
	if err != nil {
		return nil, kmerrors.New(kmerrors.NotFound, "pinecone.connection", fmt.Errorf("describe index %q: %w", index, err))
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: desc.Host})
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pinecone.connection", err)
	}
	s.conns[index] = conn
	return conn, nil
}

func (s *Store) CreateIndex(ctx context.Context, name string, cfg vectorstore.IndexConfig) error {
	metric := pinecone.Cosine
	switch cfg.Distance {
	case vectorstore.DistanceDotProduct:
		metric = pinecone.Dotproduct
	case vectorstore.DistanceEuclidean:
		metric = pinecone.Euclidean
	}
	dimension := int32(cfg.VectorSize)
	_, err := s.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:      name,
		Dimension: &dimension,
		Metric:    &metric,
		Cloud:     pinecone.Aws,
		Region:    "us-east-1",
	})
	if err != nil {
		if kmerrors.Is(wrapConflict(err), kmerrors.Validation) {
			return nil
		}
		return kmerrors.New(kmerrors.Transient, "pinecone.CreateIndex", err)
	}
	return nil
}

// wrapConflict normalizes "already exists" into a Validation kind so
// CreateIndex can treat it as a no-op the way the other backends do.
func wrapConflict(err error) error {
	return kmerrors.New(kmerrors.Validation, "pinecone", err)
}

func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pinecone.ListIndexes", err)
	}
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		names = append(names, idx.Name)
	}
	return names, nil
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	if err := s.client.DeleteIndex(ctx, name); err != nil {
		return kmerrors.New(kmerrors.Transient, "pinecone.DeleteIndex", err)
	}
	delete(s.conns, name)
	return nil
}

func (s *Store) Upsert(ctx context.Context, index string, records []*vectorstore.MemoryRecord) ([]string, error) {
	conn, err := s.connection(ctx, index)
	if err != nil {
		return nil, err
	}
	vectors := make([]*pinecone.Vector, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		meta, err := toMetadata(r)
		if err != nil {
			return nil, kmerrors.New(kmerrors.Validation, "pinecone.Upsert", err)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       r.ID,
			Values:   &r.Vector,
			Metadata: meta,
		})
		ids = append(ids, r.ID)
	}
	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pinecone.Upsert", fmt.Errorf("upsert %d vectors into %q: %w", len(vectors), index, err))
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, index string, ids []string) error {
	conn, err := s.connection(ctx, index)
	if err != nil {
		return err
	}
	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return kmerrors.New(kmerrors.Transient, "pinecone.Delete", err)
	}
	return nil
}

func (s *Store) GetSimilarList(ctx context.Context, index string, embedding []float32, filters vectorstore.Filters, minRelevance float64, limit int) (stream.Reader[vectorstore.ScoredRecord], error) {
	conn, err := s.connection(ctx, index)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 64
	}
	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          embedding,
		TopK:            uint32(limit),
		IncludeValues:   true,
		IncludeMetadata: true,
	}
	if f := toPineconeFilter(filters); f != nil {
		req.MetadataFilter = f
	}
	resp, err := conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pinecone.GetSimilarList", err)
	}
	out := make([]vectorstore.ScoredRecord, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		score := float64(m.Score)
		if score < minRelevance {
			continue
		}
		out = append(out, vectorstore.ScoredRecord{Record: fromVector(m.Vector), Score: score})
	}
	return stream.OfSlice(out), nil
}

func (s *Store) GetList(ctx context.Context, index string, filters vectorstore.Filters, limit int) (stream.Reader[*vectorstore.MemoryRecord], error) {
	conn, err := s.connection(ctx, index)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	req := &pinecone.ListVectorsRequest{Limit: uint32Ptr(uint32(limit))}
	resp, err := conn.ListVectors(ctx, req)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pinecone.GetList", err)
	}
	ids := make([]string, 0, len(resp.VectorIds))
	for _, id := range resp.VectorIds {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	fetched, err := conn.FetchVectors(ctx, ids)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pinecone.GetList", err)
	}
	out := make([]*vectorstore.MemoryRecord, 0, len(fetched.Vectors))
	for _, v := range fetched.Vectors {
		rec := fromVector(v)
		if filters.Match(rec.Tags) {
			out = append(out, rec)
		}
	}
	return stream.OfSlice(out), nil
}

func uint32Ptr(v uint32) *uint32 { return &v }

func toMetadata(r *vectorstore.MemoryRecord) (*structpb.Struct, error) {
	fields := make(map[string]any, len(r.Tags)+len(r.Payload))
	for key, values := range r.Tags {
		strs := make([]string, 0, len(values))
		for _, v := range values {
			if v != nil {
				strs = append(strs, *v)
			}
		}
		fields["tags."+key] = strs
	}
	for k, v := range r.Payload {
		fields["payload."+k] = v
	}
	return structpb.NewStruct(fields)
}

func fromVector(v *pinecone.Vector) *vectorstore.MemoryRecord {
	rec := &vectorstore.MemoryRecord{
		ID:      v.Id,
		Tags:    document.NewTags(),
		Payload: make(map[string]any),
	}
	if v.Values != nil {
		rec.Vector = *v.Values
	}
	if v.Metadata == nil {
		return rec
	}
	for key, val := range v.Metadata.GetFields() {
		switch {
		case len(key) > 5 && key[:5] == "tags.":
			tagKey := key[5:]
			for _, item := range val.GetListValue().GetValues() {
				s := item.GetStringValue()
				_ = rec.Tags.Add(tagKey, &s)
			}
		case len(key) > 8 && key[:8] == "payload.":
			rec.Payload[key[8:]] = val.AsInterface()
		}
	}
	return rec
}

func toPineconeFilter(filters vectorstore.Filters) *structpb.Struct {
	if len(filters) == 0 {
		return nil
	}
	var ors []any
	for _, f := range filters {
		if f.IsEmpty() {
			return nil
		}
		ands := make([]any, 0, len(f.Equals())+len(f.NotEquals()))
		for _, kv := range f.Equals() {
			ands = append(ands, map[string]any{"tags." + kv.Key: map[string]any{"$eq": kv.Value}})
		}
		for _, kv := range f.NotEquals() {
			ands = append(ands, map[string]any{"tags." + kv.Key: map[string]any{"$ne": kv.Value}})
		}
		ors = append(ors, map[string]any{"$and": ands})
	}
	s, _ := structpb.NewStruct(map[string]any{"$or": ors})
	return s
}

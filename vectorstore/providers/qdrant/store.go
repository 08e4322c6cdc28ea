// Package qdrant adapts vectorstore.VectorStore onto a Qdrant
// collection, grounded on the point/filter conventions of Qdrant's Go
// client.
package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/pkg/ptr"
	"github.com/kernel-memory/km/pkg/stream"
	"github.com/kernel-memory/km/vectorstore"
)

const Provider = "Qdrant"

// Store adapts a *qdrant.Client to vectorstore.VectorStore. Each index
// name maps 1:1 to a Qdrant collection name.
type Store struct {
	client *qdrant.Client
}

// New wraps an already-connected client.
func New(client *qdrant.Client) *Store {
	return &Store{client: client}
}

var _ vectorstore.VectorStore = (*Store)(nil)

func toQdrantDistance(d vectorstore.Distance) qdrant.Distance {
	switch d {
	case vectorstore.DistanceDotProduct:
		return qdrant.Distance_Dot
	case vectorstore.DistanceEuclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func (s *Store) CreateIndex(ctx context.Context, name string, cfg vectorstore.IndexConfig) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "qdrant.CreateIndex", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(cfg.VectorSize),
			Distance: toQdrantDistance(cfg.Distance),
		}),
	})
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "qdrant.CreateIndex", err)
	}
	return nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "qdrant.ListIndexes", err)
	}
	return names, nil
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return kmerrors.New(kmerrors.Transient, "qdrant.DeleteIndex", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, index string, records []*vectorstore.MemoryRecord) ([]string, error) {
	points := make([]*qdrant.PointStruct, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		payload, err := toPayload(r)
		if err != nil {
			return nil, kmerrors.New(kmerrors.Validation, "qdrant.Upsert", err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
		ids = append(ids, r.ID)
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: index,
		Wait:           ptr.Of(true),
		Points:         points,
	})
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "qdrant.Upsert", fmt.Errorf("upsert %d points into %q: %w", len(points), index, err))
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, index string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: index,
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "qdrant.Delete", err)
	}
	return nil
}

func (s *Store) GetSimilarList(ctx context.Context, index string, embedding []float32, filters vectorstore.Filters, minRelevance float64, limit int) (stream.Reader[vectorstore.ScoredRecord], error) {
	query := &qdrant.QueryPoints{
		CollectionName: index,
		Query:          qdrant.NewQuery(embedding...),
		ScoreThreshold: ptr.Of(float32(minRelevance)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if limit > 0 {
		query.Limit = ptr.Of(uint64(limit))
	}
	if f := toQdrantFilter(filters); f != nil {
		query.Filter = f
	}
	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "qdrant.GetSimilarList", err)
	}
	out := make([]vectorstore.ScoredRecord, 0, len(points))
	for _, p := range points {
		rec, err := fromScoredPoint(p)
		if err != nil {
			return nil, kmerrors.New(kmerrors.Fatal, "qdrant.GetSimilarList", err)
		}
		out = append(out, vectorstore.ScoredRecord{Record: rec, Score: float64(p.GetScore())})
	}
	return stream.OfSlice(out), nil
}

func (s *Store) GetList(ctx context.Context, index string, filters vectorstore.Filters, limit int) (stream.Reader[*vectorstore.MemoryRecord], error) {
	req := &qdrant.ScrollPoints{
		CollectionName: index,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if limit > 0 {
		req.Limit = ptr.Of(uint32(limit))
	}
	if f := toQdrantFilter(filters); f != nil {
		req.Filter = f
	}
	points, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "qdrant.GetList", err)
	}
	out := make([]*vectorstore.MemoryRecord, 0, len(points))
	for _, p := range points {
		rec, err := fromRetrievedPoint(p)
		if err != nil {
			return nil, kmerrors.New(kmerrors.Fatal, "qdrant.GetList", err)
		}
		out = append(out, rec)
	}
	return stream.OfSlice(out), nil
}

// toQdrantFilter translates a disjunction of AND-conjunctions into a
// Qdrant filter. Each vectorstore.MemoryFilter becomes one Should
// clause, itself built from nested Must/MustNot keyword-match
// conditions, mirroring the Must/Should/MustNot shape of the Qdrant
// filter DSL.
func toQdrantFilter(filters vectorstore.Filters) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	var should []*qdrant.Condition
	for _, f := range filters {
		if f.IsEmpty() {
			return nil
		}
		should = append(should, qdrant.NewFilterAsCondition(conjunctionFilter(f)))
	}
	if len(should) == 1 {
		if f, ok := should[0].ConditionOneOf.(*qdrant.Condition_Filter); ok {
			return f.Filter
		}
	}
	return &qdrant.Filter{Should: should}
}

func conjunctionFilter(f *vectorstore.MemoryFilter) *qdrant.Filter {
	out := &qdrant.Filter{}
	for _, kv := range f.Equals() {
		out.Must = append(out.Must, qdrant.NewMatchKeyword(payloadKey(kv.Key), kv.Value))
	}
	for _, kv := range f.NotEquals() {
		out.MustNot = append(out.MustNot, qdrant.NewMatchKeyword(payloadKey(kv.Key), kv.Value))
	}
	return out
}

func payloadKey(tagKey string) string { return "tags." + tagKey }

func toPayload(r *vectorstore.MemoryRecord) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(r.Tags)+len(r.Payload))
	for key, values := range r.Tags {
		strs := make([]any, 0, len(values))
		for _, v := range values {
			if v != nil {
				strs = append(strs, *v)
			}
		}
		v, err := qdrant.NewValue(strs)
		if err != nil {
			return nil, err
		}
		payload["tags."+key] = v
	}
	for k, v := range r.Payload {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return nil, err
		}
		payload["payload."+k] = val
	}
	return payload, nil
}

func fromScoredPoint(p *qdrant.ScoredPoint) (*vectorstore.MemoryRecord, error) {
	return recordFromParts(p.GetId(), p.GetPayload(), p.GetVectors())
}

func fromRetrievedPoint(p *qdrant.RetrievedPoint) (*vectorstore.MemoryRecord, error) {
	return recordFromParts(p.GetId(), p.GetPayload(), p.GetVectors())
}

func recordFromParts(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (*vectorstore.MemoryRecord, error) {
	rec := &vectorstore.MemoryRecord{
		ID:      id.GetUuid(),
		Tags:    document.NewTags(),
		Payload: make(map[string]any),
	}
	if vectors != nil {
		if dense := vectors.GetVector(); dense != nil {
			rec.Vector = dense.GetData()
		}
	}
	for key, v := range payload {
		switch {
		case key == "tags." || len(key) <= len("tags."):
			continue
		case key[:5] == "tags.":
			tagKey := key[5:]
			for _, s := range v.GetListValue().GetValues() {
				val := s.GetStringValue()
				_ = rec.Tags.Add(tagKey, &val)
			}
		case len(key) > 8 && key[:8] == "payload.":
			rec.Payload[key[8:]] = payloadValue(v)
		}
	}
	return rec, nil
}

func payloadValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}

package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/generation"
	"github.com/kernel-memory/km/retrieval"
	"github.com/kernel-memory/km/vectorstore"
	"github.com/kernel-memory/km/vectorstore/memstore"
)

// echoEmbedder maps every piece of text onto the same fixed vector, so
// Search's similarity ranking depends only on the records already in
// the store, not on the query content.
type echoEmbedder struct{ vector []float32 }

func (e echoEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return e.vector, nil
}

func (e echoEmbedder) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e echoEmbedder) Dimensions() int { return len(e.vector) }
func (e echoEmbedder) MaxTokens() int  { return 8000 }

// echoGenerator returns the prompt it was given, so tests can assert on
// what facts/question reached the generator without a real model.
type echoGenerator struct{ lastReq generation.Request }

func (g *echoGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	g.lastReq = req
	return "answer: " + req.UserPrompt, nil
}

func (g *echoGenerator) GenerateStream(ctx context.Context, req generation.Request, onToken func(string)) (string, error) {
	g.lastReq = req
	onToken("answer")
	return "answer", nil
}

func (g *echoGenerator) MaxInputTokens() int { return 8000 }

func seedRecord(t *testing.T, db *memstore.Store, index, docID, fileID, text string, vec []float32) {
	t.Helper()
	tags := document.NewTags()
	_ = tags.Set(document.TagDocumentID, docID)
	_ = tags.Set(document.TagFileID, fileID)
	_, err := db.Upsert(context.Background(), index, []*vectorstore.MemoryRecord{{
		ID:     docID + "/" + fileID + "/" + text,
		Vector: vec,
		Tags:   tags,
		Payload: map[string]any{
			"text": text,
			"file": fileID,
		},
	}})
	require.NoError(t, err)
}

func TestSearch_GroupsPartitionsByDocumentAndFile(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 2}))
	seedRecord(t, db, "idx", "doc1", "f1", "first chunk", []float32{1, 0})
	seedRecord(t, db, "idx", "doc1", "f1", "second chunk", []float32{1, 0})

	eng := retrieval.New(echoEmbedder{vector: []float32{1, 0}}, db, nil, retrieval.DefaultConfig())
	result, err := eng.Search(ctx, "idx", "what happened?", nil, 0, 0)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, "doc1", result.Results[0].DocumentID)
	assert.Len(t, result.Results[0].Partitions, 2)
}

func TestSearch_OnMissingIndexReturnsEmptyResultNotError(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("default")

	eng := retrieval.New(echoEmbedder{vector: []float32{1, 0}}, db, nil, retrieval.DefaultConfig())
	result, err := eng.Search(ctx, "never-created", "anything?", nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestAsk_OnMissingIndexReturnsEmptyAnswerNotError(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("default")

	gen := &echoGenerator{}
	eng := retrieval.New(echoEmbedder{vector: []float32{1, 0}}, db, gen, retrieval.DefaultConfig())
	answer, err := eng.Ask(ctx, "never-created", "anything?", nil, 0)
	require.NoError(t, err)
	assert.True(t, answer.NoResult)
	assert.Equal(t, "INFO NOT FOUND", answer.Text)
}

func TestAsk_ReturnsEmptyAnswerWhenNoFactsMatch(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 2}))

	gen := &echoGenerator{}
	eng := retrieval.New(echoEmbedder{vector: []float32{1, 0}}, db, gen, retrieval.DefaultConfig())
	answer, err := eng.Ask(ctx, "idx", "anything?", nil, 0)
	require.NoError(t, err)

	assert.True(t, answer.NoResult)
	assert.Equal(t, "INFO NOT FOUND", answer.Text)
}

func TestAsk_GroundsGenerationOnRetrievedFacts(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 2}))
	seedRecord(t, db, "idx", "doc1", "f1", "the sky is blue", []float32{1, 0})

	gen := &echoGenerator{}
	eng := retrieval.New(echoEmbedder{vector: []float32{1, 0}}, db, gen, retrieval.DefaultConfig())
	answer, err := eng.Ask(ctx, "idx", "what color is the sky?", nil, 0)
	require.NoError(t, err)

	assert.False(t, answer.NoResult)
	assert.Contains(t, gen.lastReq.UserPrompt, "the sky is blue")
	assert.Contains(t, gen.lastReq.UserPrompt, "what color is the sky?")
	require.Len(t, answer.RelevantSources, 1)
}

func TestAskStream_EmitsAppendThenLastEvents(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 2}))
	seedRecord(t, db, "idx", "doc1", "f1", "paris is the capital of france", []float32{1, 0})

	gen := &echoGenerator{}
	eng := retrieval.New(echoEmbedder{vector: []float32{1, 0}}, db, gen, retrieval.DefaultConfig())

	var events []retrieval.AnswerStreamEvent
	_, err := eng.AskStream(ctx, "idx", "what is the capital of france?", nil, 0, func(ev retrieval.AnswerStreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(events), 2)
	last := events[len(events)-1]
	assert.Equal(t, retrieval.StreamLast, last.StreamState)
	require.Len(t, last.RelevantSources, 1)
}

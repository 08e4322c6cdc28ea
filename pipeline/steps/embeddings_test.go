package steps_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/docstore/memdocstore"
	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/pipeline"
	"github.com/kernel-memory/km/pipeline/steps"
)

// countingEmbedder returns a 1-dimensional vector equal to the number of
// calls made so far, so tests can assert on call counts and ordering
// without depending on a real embedding model.
type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := e.GenerateEmbeddingBatch(ctx, []string{text})
	return out[0], err
}

func (e *countingEmbedder) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		e.calls++
		out[i] = []float32{float32(e.calls)}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 1 }
func (e *countingEmbedder) MaxTokens() int  { return 8000 }

func withPartitionedFile(ctx context.Context, t *testing.T, store *memdocstore.Store, index, docID, baseName string, parts ...string) *document.FileDetails {
	t.Helper()
	f := &document.FileDetails{ID: baseName, Name: baseName}
	for i, text := range parts {
		name := baseName + ".partition.txt"
		if i > 0 {
			name = baseName + "." + string(rune('a'+i)) + ".partition.txt"
		}
		require.NoError(t, store.WriteFile(ctx, index, docID, name, strings.NewReader(text)))
		f.AddGenerated(name, &document.GeneratedFileDetails{
			Name: name, ArtifactType: document.TextPartition, ParentID: baseName, PartitionNumber: i,
		})
	}
	return f
}

func TestGenEmbeddings_WritesOneVectorPerPartitionPerEmbedder(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	require.NoError(t, store.CreateDocumentDirectory(ctx, "idx", "doc1"))

	f := withPartitionedFile(ctx, t, store, "idx", "doc1", "a.txt", "chunk one", "chunk two")
	embedder := &countingEmbedder{}
	env := &pipeline.Env{
		DocStore:  store,
		Embedders: []pipeline.EmbedderTarget{{Name: "default", Generator: embedder, Indexes: []string{"idx"}}},
		Config:    pipeline.DefaultConfig(),
	}
	p := pipeline.New("idx", "doc1", document.NewTags(), []string{steps.GenEmbeddingsStepName}, []*document.FileDetails{f})

	outcome, p, err := steps.GenEmbeddings{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Complete, outcome)
	assert.Equal(t, 2, embedder.calls)

	vecs := p.Files[0].GeneratedByType(document.TextEmbeddingVector)
	require.Len(t, vecs, 2)

	r, err := store.ReadFile(ctx, "idx", "doc1", vecs[0])
	require.NoError(t, err)
	defer r.Close()
	var vec []float32
	require.NoError(t, json.NewDecoder(r).Decode(&vec))
	assert.Len(t, vec, 1)
}

// batchSizeEmbedder records the size of every GenerateEmbeddingBatch call
// it receives, so a test can assert on how the step split its batches.
type batchSizeEmbedder struct {
	batchSizes []int
}

func (e *batchSizeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := e.GenerateEmbeddingBatch(ctx, []string{text})
	return out[0], err
}

func (e *batchSizeEmbedder) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchSizes = append(e.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (e *batchSizeEmbedder) Dimensions() int { return 1 }
func (e *batchSizeEmbedder) MaxTokens() int  { return 8000 }

func TestGenEmbeddings_SplitsBatchesWhenTokenBudgetWouldOverflow(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	require.NoError(t, store.CreateDocumentDirectory(ctx, "idx", "doc1"))

	// Each partition tokenizes to a handful of tokens; a token budget of 1
	// forces every partition but the first in a batch into its own call.
	f := withPartitionedFile(ctx, t, store, "idx", "doc1", "a.txt", "alpha beta", "gamma delta", "epsilon zeta")
	embedder := &batchSizeEmbedder{}
	env := &pipeline.Env{
		DocStore:  store,
		Embedders: []pipeline.EmbedderTarget{{Name: "default", Generator: embedder, Indexes: []string{"idx"}}},
		Config: pipeline.Config{
			MaxEmbeddingBatchSize:   100,
			MaxEmbeddingBatchTokens: 1,
		},
	}
	p := pipeline.New("idx", "doc1", document.NewTags(), []string{steps.GenEmbeddingsStepName}, []*document.FileDetails{f})

	outcome, p, err := steps.GenEmbeddings{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Complete, outcome)

	assert.Equal(t, []int{1, 1, 1}, embedder.batchSizes,
		"a 1-token batch budget must force each multi-token partition into its own call")
	assert.Len(t, p.Files[0].GeneratedByType(document.TextEmbeddingVector), 3)
}

func TestGenEmbeddings_SkipsPartitionsAlreadyEmbeddedByThisEmbedder(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	require.NoError(t, store.CreateDocumentDirectory(ctx, "idx", "doc1"))

	f := withPartitionedFile(ctx, t, store, "idx", "doc1", "a.txt", "chunk one")
	embedder := &countingEmbedder{}
	env := &pipeline.Env{
		DocStore:  store,
		Embedders: []pipeline.EmbedderTarget{{Name: "default", Generator: embedder, Indexes: []string{"idx"}}},
		Config:    pipeline.DefaultConfig(),
	}
	p := pipeline.New("idx", "doc1", document.NewTags(), []string{steps.GenEmbeddingsStepName}, []*document.FileDetails{f})

	_, p, err := steps.GenEmbeddings{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)

	_, p, err = steps.GenEmbeddings{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls, "re-running should not re-embed an already embedded partition")
}

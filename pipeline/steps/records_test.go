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
	"github.com/kernel-memory/km/pkg/stream"
	"github.com/kernel-memory/km/vectorstore"
	"github.com/kernel-memory/km/vectorstore/memstore"
)

func withEmbeddedFile(ctx context.Context, t *testing.T, store *memdocstore.Store, index, docID, baseName, partitionText, embedderName string) *document.FileDetails {
	t.Helper()
	f := &document.FileDetails{ID: baseName, Name: baseName, MimeType: "text/plain"}

	partName := baseName + ".partition.txt"
	require.NoError(t, store.WriteFile(ctx, index, docID, partName, strings.NewReader(partitionText)))
	f.AddGenerated(partName, &document.GeneratedFileDetails{
		Name: partName, ArtifactType: document.TextPartition, ParentID: baseName, PartitionNumber: 0,
	})

	vec, err := json.Marshal([]float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
	vecName := partName + ".embed." + embedderName + ".json"
	require.NoError(t, store.WriteFile(ctx, index, docID, vecName, strings.NewReader(string(vec))))
	vecTags := document.NewTags()
	_ = vecTags.Set("embedder", embedderName)
	f.AddGenerated(vecName, &document.GeneratedFileDetails{
		Name: vecName, ArtifactType: document.TextEmbeddingVector, ParentID: partName, Tags: vecTags,
	})
	return f
}

func TestSaveRecords_UpsertsIntoEveryConfiguredIndex(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	require.NoError(t, store.CreateDocumentDirectory(ctx, "idx", "doc1"))

	f := withEmbeddedFile(ctx, t, store, "idx", "doc1", "a.txt", "chunk text", "default")
	db := memstore.New("")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 3}))

	env := &pipeline.Env{
		DocStore:  store,
		VectorDB:  db,
		Embedders: []pipeline.EmbedderTarget{{Name: "default", Indexes: []string{"idx"}}},
	}
	p := pipeline.New("idx", "doc1", document.NewTags(), []string{steps.SaveRecordsStepName}, []*document.FileDetails{f})

	outcome, p, err := steps.SaveRecords{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Complete, outcome)

	reader, err := db.GetList(ctx, "idx", nil, 0)
	require.NoError(t, err)
	records, err := stream.Collect(ctx, reader)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "doc1", records[0].DocumentID())
	assert.Equal(t, "a.txt", records[0].FileID())
}

func TestSaveRecords_IsIdempotentOnRerun(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	require.NoError(t, store.CreateDocumentDirectory(ctx, "idx", "doc1"))

	f := withEmbeddedFile(ctx, t, store, "idx", "doc1", "a.txt", "chunk text", "default")
	db := memstore.New("")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 3}))

	env := &pipeline.Env{
		DocStore:  store,
		VectorDB:  db,
		Embedders: []pipeline.EmbedderTarget{{Name: "default", Indexes: []string{"idx"}}},
	}
	p := pipeline.New("idx", "doc1", document.NewTags(), []string{steps.SaveRecordsStepName}, []*document.FileDetails{f})

	_, p, err := steps.SaveRecords{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	_, p, err = steps.SaveRecords{}.Invoke(ctx, env, p)
	require.NoError(t, err)

	reader, err := db.GetList(ctx, "idx", nil, 0)
	require.NoError(t, err)
	records, err := stream.Collect(ctx, reader)
	require.NoError(t, err)
	assert.Len(t, records, 1, "re-running save_records must not duplicate the upserted record")
}

package steps_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/pipeline"
	"github.com/kernel-memory/km/pipeline/steps"
	"github.com/kernel-memory/km/pkg/stream"
	"github.com/kernel-memory/km/vectorstore"
	"github.com/kernel-memory/km/vectorstore/memstore"

	"github.com/kernel-memory/km/docstore/memdocstore"
)

func TestDeleteDocument_RemovesOnlyMatchingRecords(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	require.NoError(t, store.CreateDocumentDirectory(ctx, "idx", "doc1"))
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "idx", vectorstore.IndexConfig{VectorSize: 1}))

	docTags := document.NewTags()
	_ = docTags.Set(document.TagDocumentID, "doc1")
	otherTags := document.NewTags()
	_ = otherTags.Set(document.TagDocumentID, "doc2")
	_, err := db.Upsert(ctx, "idx", []*vectorstore.MemoryRecord{
		{ID: "r1", Vector: []float32{1}, Tags: docTags},
		{ID: "r2", Vector: []float32{1}, Tags: otherTags},
	})
	require.NoError(t, err)

	env := &pipeline.Env{
		DocStore:  store,
		VectorDB:  db,
		Embedders: []pipeline.EmbedderTarget{{Name: "default", Indexes: []string{"idx"}}},
		Config:    pipeline.DefaultConfig(),
	}
	p := pipeline.NewDeletion("idx", "doc1", steps.DeleteDocumentStepName)

	outcome, p, err := steps.DeleteDocument{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Complete, outcome)
	assert.True(t, p.Empty)

	remaining, err := db.GetList(ctx, "idx", nil, 0)
	require.NoError(t, err)
	recs, err := stream.Collect(ctx, remaining)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r2", recs[0].ID)
}

func TestDeleteIndex_RefusesDefaultIndex(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "default", vectorstore.IndexConfig{VectorSize: 1}))

	env := &pipeline.Env{DocStore: store, VectorDB: db, Config: pipeline.DefaultConfig()}
	p := pipeline.NewDeletion("default", "doc1", steps.DeleteIndexStepName)

	outcome, _, err := steps.DeleteIndex{}.Invoke(ctx, env, p)
	assert.Equal(t, pipeline.Fatal, outcome)
	assert.Error(t, err)

	idxs, err := db.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Contains(t, idxs, "default")
}

func TestDeleteIndex_RemovesNonDefaultIndex(t *testing.T) {
	ctx := context.Background()
	store := memdocstore.New()
	db := memstore.New("default")
	require.NoError(t, db.CreateIndex(ctx, "scratch", vectorstore.IndexConfig{VectorSize: 1}))
	require.NoError(t, store.CreateIndexDirectory(ctx, "scratch"))

	env := &pipeline.Env{DocStore: store, VectorDB: db, Config: pipeline.DefaultConfig()}
	p := pipeline.NewDeletion("scratch", "doc1", steps.DeleteIndexStepName)

	outcome, p, err := steps.DeleteIndex{}.Invoke(ctx, env, p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Complete, outcome)
	assert.True(t, p.Empty)

	idxs, err := db.ListIndexes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, idxs, "scratch")
}

package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/docstore/memdocstore"
	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/pipeline"
	"github.com/kernel-memory/km/queue"
	"github.com/kernel-memory/km/queue/memqueue"
)

// countingStep records every document id it was invoked on and always
// completes, so tests can assert the orchestrator drove the pipeline
// through every step in order.
type countingStep struct {
	name  string
	calls *[]string
}

func (s countingStep) Name() string { return s.name }

func (s countingStep) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	*s.calls = append(*s.calls, s.name+"/"+p.DocumentID)
	return pipeline.Complete, p, nil
}

func newTestOrchestrator(t *testing.T, calls *[]string) (*pipeline.Orchestrator, *memqueue.Queue) {
	t.Helper()
	store := memdocstore.New()
	q := memqueue.New(memqueue.Config{VisibilityTimeout: time.Second})
	env := &pipeline.Env{DocStore: store, Config: pipeline.DefaultConfig()}
	orch := pipeline.New(env, q, nil)
	for _, name := range []string{"extract", "partition", "gen_embeddings", "save_records"} {
		orch.RegisterStep(countingStep{name: name, calls: calls})
	}
	return orch, q
}

func driveOneMessage(t *testing.T, ctx context.Context, orch *pipeline.Orchestrator, q *memqueue.Queue, queueName string) pipeline.Outcome {
	t.Helper()
	msg, handle, err := q.Dequeue(ctx, queueName)
	require.NoError(t, err)
	outcome, err := orch.RunStep(ctx, msg)
	require.NoError(t, err)
	if outcome == pipeline.Complete {
		require.NoError(t, q.Ack(ctx, handle))
	} else {
		require.NoError(t, q.Nack(ctx, handle))
	}
	return outcome
}

func TestImportDocument_DrivesStepsInOrder(t *testing.T) {
	ctx := context.Background()
	var calls []string
	orch, q := newTestOrchestrator(t, &calls)

	docID, err := orch.ImportDocument(ctx, pipeline.UploadRequest{
		Index: "My Index",
		Files: []document.InputFile{{Name: "a.txt", Reader: strings.NewReader("hello")}},
	})
	require.NoError(t, err)

	for _, step := range []string{"extract", "partition", "gen_embeddings", "save_records"} {
		outcome := driveOneMessage(t, ctx, orch, q, step)
		assert.Equal(t, pipeline.Complete, outcome)
	}

	assert.Equal(t, []string{
		"extract/" + docID,
		"partition/" + docID,
		"gen_embeddings/" + docID,
		"save_records/" + docID,
	}, calls)

	ready, err := orch.IsDocumentReady(ctx, "my-index", docID)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestRunStep_RejectsOutOfOrderStep(t *testing.T) {
	ctx := context.Background()
	var calls []string
	orch, _ := newTestOrchestrator(t, &calls)

	docID, err := orch.ImportDocument(ctx, pipeline.UploadRequest{
		Index: "default",
		Files: []document.InputFile{{Name: "a.txt", Reader: strings.NewReader("hello")}},
	})
	require.NoError(t, err)

	outcome, err := orch.RunStep(ctx, &queue.Message{IndexName: "default", DocumentID: docID, StepName: "save_records"})
	assert.Equal(t, pipeline.Fatal, outcome)
	assert.Error(t, err)
}

func TestIsDocumentReady_UnknownDocumentIsFalse(t *testing.T) {
	ctx := context.Background()
	var calls []string
	orch, _ := newTestOrchestrator(t, &calls)

	ready, err := orch.IsDocumentReady(ctx, "default", "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ready)
}

package pipeline_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/docstore/memdocstore"
	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/pipeline"
	"github.com/kernel-memory/km/pkg/xsync"
	"github.com/kernel-memory/km/queue/memqueue"
)

// safeCalls is a mutex-guarded call recorder, since a Worker dispatches
// steps onto a real concurrent pool rather than the calling goroutine.
type safeCalls struct {
	mu    sync.Mutex
	calls []string
}

func (c *safeCalls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *safeCalls) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// recordingStep is a Step that appends to a safeCalls recorder instead of
// a plain slice, safe for use from a Worker's pool goroutines.
type recordingStep struct {
	name string
	rec  *safeCalls
}

func (s recordingStep) Name() string { return s.name }

func (s recordingStep) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	s.rec.add(s.name + "/" + p.DocumentID)
	return pipeline.Complete, p, nil
}

// TestWorker_RunsStepsOnABoundedAntsPool exercises a Worker end to end
// with a real bounded goroutine pool backend (rather than the
// unbounded PoolOfNoPool every other orchestrator test uses), proving
// the orchestrator runtime works when Submit can actually block at
// capacity.
func TestWorker_RunsStepsOnABoundedAntsPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := xsync.PoolOfAnts(2)
	require.NoError(t, err)

	store := memdocstore.New()
	rec := &safeCalls{}
	env := &pipeline.Env{DocStore: store, Config: pipeline.DefaultConfig()}

	q := memqueue.New(memqueue.Config{VisibilityTimeout: time.Second})
	orch := pipeline.New(env, q, pool)
	for _, name := range []string{"extract", "partition", "gen_embeddings", "save_records"} {
		orch.RegisterStep(recordingStep{name: name, rec: rec})
	}

	docID, err := orch.ImportDocument(ctx, pipeline.UploadRequest{
		Index: "default",
		Files: []document.InputFile{{Name: "a.txt", Reader: strings.NewReader("hello")}},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	worker := pipeline.NewWorker(orch, q, "extract", 2, pool)
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 1
	}, time.Second, 5*time.Millisecond, "worker must process the extract step")

	cancel()
	<-done

	assert.Contains(t, rec.snapshot(), "extract/"+docID)
}

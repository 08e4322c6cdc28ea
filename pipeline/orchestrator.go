package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/pkg/xsync"
	"github.com/kernel-memory/km/queue"
)

// UploadRequest is the client-facing ingestion request (spec.md §6).
type UploadRequest struct {
	Index      string
	DocumentID string
	Tags       document.Tags
	Files      []document.InputFile
	Steps      []string
}

// Orchestrator owns DataPipeline lifecycles end to end: writing source
// files, persisting status.json, dispatching steps through the queue,
// and advancing the state machine on each handler's outcome (C6).
// Grounded on this module's scheduler Consume/Work/Ack loop, with the
// addition of the per-(index,documentId) serialization spec.md §5
// requires.
type Orchestrator struct {
	env   *Env
	queue queue.Queue
	steps map[string]Step

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	pool xsync.Pool
}

// New creates an Orchestrator. pool may be nil, in which case
// xsync.PoolOfNoPool is used and each step runs on its own new
// goroutine.
func New(env *Env, q queue.Queue, pool xsync.Pool) *Orchestrator {
	if pool == nil {
		pool = xsync.PoolOfNoPool()
	}
	return &Orchestrator{
		env:   env,
		queue: q,
		steps: make(map[string]Step),
		locks: make(map[string]*sync.Mutex),
		pool:  pool,
	}
}

// RegisterStep wires a handler under its own name.
func (o *Orchestrator) RegisterStep(s Step) {
	o.steps[s.Name()] = s
}

func (o *Orchestrator) lockFor(index, documentID string) *sync.Mutex {
	key := index + "/" + documentID
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[key]
	if !ok {
		l = &sync.Mutex{}
		o.locks[key] = l
	}
	return l
}

// ImportDocument validates the request, writes source files, creates
// the pipeline's status.json, and enqueues its first step.
func (o *Orchestrator) ImportDocument(ctx context.Context, req UploadRequest) (string, error) {
	index := document.NormalizeIndexName(req.Index, o.env.Config.DefaultIndex)
	documentID := req.DocumentID
	if documentID == "" {
		documentID = document.NewID()
	}
	if err := document.ValidateID(documentID); err != nil {
		return "", err
	}
	tags := req.Tags
	if tags == nil {
		tags = document.NewTags()
	}
	if err := tags.ValidateUserTags(); err != nil {
		return "", err
	}

	if err := o.env.DocStore.CreateIndexDirectory(ctx, index); err != nil {
		return "", err
	}
	if err := o.env.DocStore.CreateDocumentDirectory(ctx, index, documentID); err != nil {
		return "", err
	}

	files := document.DeduplicateFileNames(req.Files)
	details := make([]*document.FileDetails, 0, len(files))
	for _, f := range files {
		id := document.NewID()
		if err := o.env.DocStore.WriteFile(ctx, index, documentID, f.Name, f.Reader); err != nil {
			return "", err
		}
		details = append(details, &document.FileDetails{
			ID:   id,
			Name: f.Name,
		})
	}

	steps := req.Steps
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	p := New(index, documentID, tags, steps, details)
	if err := WriteStatus(ctx, o.env.DocStore, p); err != nil {
		return "", err
	}

	if err := o.enqueueNext(ctx, p); err != nil {
		return "", err
	}
	return documentID, nil
}

// StartDocumentDeletion creates a minimal empty=true pipeline running
// only delete_document.
func (o *Orchestrator) StartDocumentDeletion(ctx context.Context, index, documentID string) error {
	index = document.NormalizeIndexName(index, o.env.Config.DefaultIndex)
	p := NewDeletion(index, documentID, "delete_document")
	if err := WriteStatus(ctx, o.env.DocStore, p); err != nil {
		return err
	}
	return o.enqueueNext(ctx, p)
}

// StartIndexDeletion creates a minimal empty=true pipeline running
// only delete_index.
func (o *Orchestrator) StartIndexDeletion(ctx context.Context, index string) error {
	index = document.NormalizeIndexName(index, o.env.Config.DefaultIndex)
	p := NewDeletion(index, document.NewID(), "delete_index")
	if err := WriteStatus(ctx, o.env.DocStore, p); err != nil {
		return err
	}
	return o.enqueueNext(ctx, p)
}

// IsDocumentReady reports whether a document's pipeline has finished
// without being a deletion/empty marker.
func (o *Orchestrator) IsDocumentReady(ctx context.Context, index, documentID string) (bool, error) {
	p, err := o.ReadPipelineSummary(ctx, index, documentID)
	if err != nil {
		if kmerrors.Is(err, kmerrors.NotFound) {
			return false, nil
		}
		return false, err
	}
	if p == nil {
		return false, nil
	}
	return p.IsReady(), nil
}

// ReadPipelineSummary loads status.json, or nil if the document is
// unknown (spec.md §7: "returns null rather than an error").
func (o *Orchestrator) ReadPipelineSummary(ctx context.Context, index, documentID string) (*DataPipeline, error) {
	index = document.NormalizeIndexName(index, o.env.Config.DefaultIndex)
	p, err := ReadStatus(ctx, o.env.DocStore, index, documentID)
	if err != nil {
		if kmerrors.Is(err, kmerrors.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ReadTextFile reads a generated artifact's text content as a
// convenience for step handlers, avoiding direct docstore plumbing.
func (o *Orchestrator) ReadTextFile(ctx context.Context, p *DataPipeline, name string) (string, error) {
	r, err := o.env.DocStore.ReadFile(ctx, p.Index, p.DocumentID, name)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", kmerrors.New(kmerrors.Transient, "pipeline.ReadTextFile", err)
	}
	return string(data), nil
}

// WriteTextFile writes content as a generated artifact under name.
func (o *Orchestrator) WriteTextFile(ctx context.Context, p *DataPipeline, name, content string) error {
	return o.env.DocStore.WriteFile(ctx, p.Index, p.DocumentID, name, strings.NewReader(content))
}

func (o *Orchestrator) enqueueNext(ctx context.Context, p *DataPipeline) error {
	stepName := p.NextStep()
	if stepName == "" {
		return nil
	}
	return o.queue.Enqueue(ctx, stepName, &queue.Message{
		IndexName:  p.Index,
		DocumentID: p.DocumentID,
		StepName:   stepName,
	})
}

// stepResult is what a step handler produces, carried through a Future
// so RunStep can await it cooperatively against ctx cancellation.
type stepResult struct {
	outcome Outcome
	next    *DataPipeline
	err     error
}

// RunStep processes one message: re-reads status.json, invokes the
// registered handler for msg.StepName, persists the result, and
// returns the Outcome so a queue worker (see Worker) knows whether to
// Ack or Nack. Concurrent calls for the same (index, documentId) block
// on the pipeline's lock (spec.md §4.4/§5). The handler itself runs on
// o.pool via a Future, so RunStep can give up waiting (returning a
// TransientError for redelivery) if ctx is cancelled before the handler
// finishes, rather than blocking forever on a stuck step.
func (o *Orchestrator) RunStep(ctx context.Context, msg *queue.Message) (Outcome, error) {
	lock := o.lockFor(msg.IndexName, msg.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	step, ok := o.steps[msg.StepName]
	if !ok {
		return Fatal, kmerrors.Newf(kmerrors.Fatal, "pipeline.RunStep", "unknown step %q", msg.StepName)
	}

	p, err := ReadStatus(ctx, o.env.DocStore, msg.IndexName, msg.DocumentID)
	if err != nil {
		return Fatal, err
	}
	if p.Failed || p.Completed {
		return Complete, nil
	}
	if p.NextStep() != msg.StepName {
		return Fatal, kmerrors.Newf(kmerrors.Fatal, "pipeline.RunStep",
			"pipeline %s/%s expects step %q next, got %q", msg.IndexName, msg.DocumentID, p.NextStep(), msg.StepName)
	}

	future := xsync.Go(o.pool, func(interrupt <-chan struct{}) (stepResult, error) {
		outcome, next, err := step.Invoke(ctx, o.env, p)
		return stepResult{outcome: outcome, next: next, err: err}, nil
	})
	res, err := future.GetWithContext(ctx)
	if err != nil {
		return TransientError, fmt.Errorf("pipeline.RunStep: %s/%s: %w", msg.IndexName, msg.DocumentID, err)
	}
	outcome, next, err := res.outcome, res.next, res.err
	switch outcome {
	case Complete:
		next.AdvanceStep(msg.StepName)
		if err := WriteStatus(ctx, o.env.DocStore, next); err != nil {
			return TransientError, err
		}
		if err := o.enqueueNext(ctx, next); err != nil {
			return TransientError, err
		}
		return Complete, nil
	case Fatal:
		next.MarkFailed(fmt.Sprintf("step %s: %v", msg.StepName, err))
		if werr := WriteStatus(ctx, o.env.DocStore, next); werr != nil {
			slog.Error("pipeline: failed to persist failure status", slog.String("err", werr.Error()))
		}
		return Fatal, err
	default:
		return outcome, err
	}
}

// Package pipeline owns the DataPipeline state machine and the
// orchestrator that drives a pipeline's steps to completion (C6),
// dispatching each step to a registered handler (C7) via the queue.
package pipeline

import (
	"time"

	"github.com/kernel-memory/km/document"
)

// DataPipeline is the mutable state object owned by the orchestrator,
// persisted as status.json after every successful step. Field order
// matches the declared order of spec.md §6 so JSON output is stable
// across versions that only add fields.
type DataPipeline struct {
	Completed      bool                  `json:"completed"`
	Failed         bool                  `json:"failed"`
	Empty          bool                  `json:"empty"`
	Index          string                `json:"index"`
	DocumentID     string                `json:"document_id"`
	Tags           document.Tags         `json:"tags"`
	Creation       time.Time             `json:"creation"`
	LastUpdate     time.Time             `json:"last_update"`
	Steps          []string              `json:"steps"`
	RemainingSteps []string              `json:"remaining_steps"`
	CompletedSteps []string              `json:"completed_steps"`
	Files          []*document.FileDetails `json:"files"`

	// FailureReason records why Failed was set, for ReadPipelineSummary
	// callers and operators; not part of the state machine itself.
	FailureReason string `json:"failure_reason,omitempty"`
}

// DefaultSteps is the ingestion step order used when ImportDocument is
// not given an explicit one (spec.md §4.4).
var DefaultSteps = []string{"extract", "partition", "gen_embeddings", "save_records"}

// New creates a pipeline in the Pending state: every step in steps is
// still remaining, none completed.
func New(index, documentID string, tags document.Tags, steps []string, files []*document.FileDetails) *DataPipeline {
	now := Now()
	remaining := make([]string, len(steps))
	copy(remaining, steps)
	return &DataPipeline{
		Index:          index,
		DocumentID:     documentID,
		Tags:           tags,
		Creation:       now,
		LastUpdate:     now,
		Steps:          steps,
		RemainingSteps: remaining,
		CompletedSteps: nil,
		Files:          files,
	}
}

// NewDeletion builds the minimal empty=true pipeline used by
// StartDocumentDeletion/delete_index, running stepName alone.
func NewDeletion(index, documentID, stepName string) *DataPipeline {
	p := New(index, documentID, document.NewTags(), []string{stepName}, nil)
	p.Empty = true
	return p
}

// NextStep returns the next step to run, or "" if none remain.
func (p *DataPipeline) NextStep() string {
	if len(p.RemainingSteps) == 0 {
		return ""
	}
	return p.RemainingSteps[0]
}

// AdvanceStep moves the head of RemainingSteps to CompletedSteps,
// preserving the invariant Steps == CompletedSteps ++ RemainingSteps.
// It panics if stepName does not match the pending head, which would
// indicate a corrupt status.json or a handler run out of order.
func (p *DataPipeline) AdvanceStep(stepName string) {
	if len(p.RemainingSteps) == 0 || p.RemainingSteps[0] != stepName {
		panic("pipeline: AdvanceStep called out of order")
	}
	p.CompletedSteps = append(p.CompletedSteps, stepName)
	p.RemainingSteps = p.RemainingSteps[1:]
	p.LastUpdate = Now()
	if len(p.RemainingSteps) == 0 {
		p.Completed = true
	}
}

// MarkFailed sets Failed and records why; a failed pipeline is never
// retried further (spec.md §4.4 failure semantics).
func (p *DataPipeline) MarkFailed(reason string) {
	p.Failed = true
	p.FailureReason = reason
	p.LastUpdate = Now()
}

// IsReady reports the IsDocumentReady predicate: completed and not a
// deletion/empty pipeline.
func (p *DataPipeline) IsReady() bool {
	return p.Completed && !p.Empty
}

// FileByID returns the FileDetails with the given id, or nil.
func (p *DataPipeline) FileByID(id string) *document.FileDetails {
	for _, f := range p.Files {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// now is overridable in tests; production code always uses time.Now.
var now = time.Now

// Now returns the current time through the package's clock hook.
func Now() time.Time { return now() }

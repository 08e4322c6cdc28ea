package steps

import (
	"context"
	"fmt"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/pipeline"
	"github.com/kernel-memory/km/vectorstore"
)

// DeleteDocumentStepName is the registered name of the delete_document
// step, run by orchestrator.StartDocumentDeletion's single-step pipeline.
const DeleteDocumentStepName = "delete_document"

// DeleteIndexStepName is the registered name of the delete_index step,
// run by orchestrator.StartIndexDeletion's single-step pipeline.
const DeleteIndexStepName = "delete_index"

// DeleteDocument removes every vector record tagged with the document's
// id from every index any configured embedder writes to, then empties
// the document's directory. The orchestrator rewrites status.json right
// after this step returns Complete, so callers never observe the
// directory without a status.json (spec.md §4.5 delete semantics).
type DeleteDocument struct{}

func (DeleteDocument) Name() string { return DeleteDocumentStepName }

func (d DeleteDocument) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	indexes := targetIndexes(env, p.Index)
	filter := vectorstore.Filters{vectorstore.ByTag(document.TagDocumentID, p.DocumentID)}

	for _, indexName := range indexes {
		reader, err := env.VectorDB.GetList(ctx, indexName, filter, 0)
		if err != nil {
			if kmerrors.Is(err, kmerrors.NotFound) {
				continue
			}
			return pipeline.TransientError, p, err
		}
		var ids []string
		for {
			rec, err := reader.Read(ctx)
			if err != nil {
				break
			}
			ids = append(ids, rec.ID)
		}
		if len(ids) > 0 {
			if err := env.VectorDB.Delete(ctx, indexName, ids); err != nil {
				return pipeline.TransientError, p, err
			}
		}
	}

	if err := env.DocStore.EmptyDocumentDirectory(ctx, p.Index, p.DocumentID); err != nil {
		return pipeline.TransientError, p, err
	}
	p.Empty = true
	return pipeline.Complete, p, nil
}

// targetIndexes returns every index name any embedder writes to, plus
// fallback, deduplicated.
func targetIndexes(env *pipeline.Env, fallback string) []string {
	seen := map[string]bool{}
	var out []string
	for _, target := range env.Embedders {
		for _, idx := range target.Indexes {
			if !seen[idx] {
				seen[idx] = true
				out = append(out, idx)
			}
		}
	}
	if len(out) == 0 {
		out = []string{fallback}
	}
	return out
}

// DeleteIndex removes a whole index: its vector collection and its
// document-store directory. Deleting the configured default index is
// refused (spec.md §9 open question, resolved: default index protected).
type DeleteIndex struct{}

func (DeleteIndex) Name() string { return DeleteIndexStepName }

func (d DeleteIndex) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	if p.Index == env.Config.DefaultIndex {
		return pipeline.Fatal, p, fmt.Errorf("delete_index: refusing to delete the default index %q", p.Index)
	}
	if err := env.VectorDB.DeleteIndex(ctx, p.Index); err != nil {
		return pipeline.TransientError, p, err
	}
	if err := env.DocStore.DeleteIndexDirectory(ctx, p.Index); err != nil {
		return pipeline.TransientError, p, err
	}
	p.Empty = true
	return pipeline.Complete, p, nil
}

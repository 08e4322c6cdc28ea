package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/kernel-memory/km/docstore"
	"github.com/kernel-memory/km/kmerrors"
)

// StatusFileName is the fixed name status.json is written under inside
// a document's directory.
const StatusFileName = "status.json"

// WriteStatus persists p as the document's status.json. The
// orchestrator calls this before it enqueues the next step (spec.md
// §4.4): on write failure the whole step is retried.
func WriteStatus(ctx context.Context, store docstore.DocumentStore, p *DataPipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return kmerrors.New(kmerrors.Fatal, "pipeline.WriteStatus", err)
	}
	if err := store.WriteFile(ctx, p.Index, p.DocumentID, StatusFileName, bytes.NewReader(data)); err != nil {
		return err
	}
	return nil
}

// ReadStatus loads a document's status.json. Unknown fields are
// ignored by encoding/json's default decode behavior, satisfying the
// backward-compatibility rule of spec.md §6.
func ReadStatus(ctx context.Context, store docstore.DocumentStore, index, documentID string) (*DataPipeline, error) {
	r, err := store.ReadFile(ctx, index, documentID, StatusFileName)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "pipeline.ReadStatus", err)
	}
	var p DataPipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, kmerrors.New(kmerrors.Fatal, "pipeline.ReadStatus", err)
	}
	return &p, nil
}

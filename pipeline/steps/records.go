package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/pipeline"
	"github.com/kernel-memory/km/vectorstore"
)

// SaveRecordsStepName is the registered name of the save_records step.
const SaveRecordsStepName = "save_records"

// recordedTagKey marks, on a TextEmbeddingVector artifact's own tags,
// which indexes it has already been upserted into, so a retried step
// does not duplicate work across a crash boundary.
const recordedTagKey = "recorded_index"

// SaveRecords turns every TextEmbeddingVector artifact into a
// MemoryRecord carrying the reserved identity tags plus the document's
// user tags, and upserts it into every index its embedder targets.
type SaveRecords struct{}

func (SaveRecords) Name() string { return SaveRecordsStepName }

func (s SaveRecords) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	for _, target := range env.Embedders {
		for _, f := range p.Files {
			for _, name := range f.GeneratedByType(document.TextEmbeddingVector) {
				gen := f.GeneratedFiles[name]
				if !hasEmbedderTag(gen, target.Name) {
					continue
				}
				text, err := readGenerated(ctx, env, p, gen.ParentID)
				if err != nil {
					return pipeline.TransientError, p, err
				}
				vecBytes, err := readGenerated(ctx, env, p, name)
				if err != nil {
					return pipeline.TransientError, p, err
				}
				var vector []float32
				if err := json.Unmarshal([]byte(vecBytes), &vector); err != nil {
					return pipeline.Fatal, p, fmt.Errorf("save_records: decode vector %s: %w", name, err)
				}

				record := buildRecord(p, f, gen, text, vector)
				for _, indexName := range target.Indexes {
					if alreadyRecorded(gen, indexName) {
						continue
					}
					if _, err := env.VectorDB.Upsert(ctx, indexName, []*vectorstore.MemoryRecord{record}); err != nil {
						return pipeline.TransientError, p, err
					}
					markRecorded(gen, indexName)
				}
			}
		}
	}
	return pipeline.Complete, p, nil
}

func buildRecord(p *pipeline.DataPipeline, f *document.FileDetails, gen *document.GeneratedFileDetails, text string, vector []float32) *vectorstore.MemoryRecord {
	tags := p.Tags.Clone()
	_ = tags.Set(document.TagDocumentID, p.DocumentID)
	_ = tags.Set(document.TagFileID, f.ID)
	_ = tags.Set(document.TagFilePart, gen.Name)
	_ = tags.Add(document.TagPartitionNum, ptrString(fmt.Sprint(gen.PartitionNumber)))
	_ = tags.Add(document.TagSectionNum, ptrString(fmt.Sprint(gen.SectionNumber)))
	_ = tags.Set(document.TagFileType, f.MimeType)

	return &vectorstore.MemoryRecord{
		ID:     vectorstore.RecordID(p.DocumentID, f.ID, gen.PartitionNumber),
		Vector: vector,
		Tags:   tags,
		Payload: map[string]any{
			"text": text,
			"file": f.Name,
		},
	}
}

func alreadyRecorded(gen *document.GeneratedFileDetails, indexName string) bool {
	for _, v := range gen.Tags.Values(recordedTagKey) {
		if v != nil && *v == indexName {
			return true
		}
	}
	return false
}

func markRecorded(gen *document.GeneratedFileDetails, indexName string) {
	if gen.Tags == nil {
		gen.Tags = document.NewTags()
	}
	_ = gen.Tags.Add(recordedTagKey, ptrString(indexName))
}

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kernel-memory/km/document"
	kmmime "github.com/kernel-memory/km/pkg/mime"
	"github.com/kernel-memory/km/pipeline"
)

// GenEmbeddingsStepName is the registered name of the embedding step.
const GenEmbeddingsStepName = "gen_embeddings"

// embedderTagKey records which EmbedderTarget produced a given
// TextEmbeddingVector artifact, so save_records can route it to the
// right indexes without re-deriving the embedder from its name alone.
const embedderTagKey = "embedder"

// GenEmbeddings embeds every TextPartition artifact once per configured
// embedder, batching requests up to Config.MaxEmbeddingBatchSize and
// Config.MaxEmbeddingBatchTokens (the same caps for every embedder) and
// skipping partitions already embedded by that embedder.
type GenEmbeddings struct{}

func (GenEmbeddings) Name() string { return GenEmbeddingsStepName }

// embedWork is one partition artifact awaiting embedding by one target.
type embedWork struct {
	file *document.FileDetails
	name string
	text string
}

func (s GenEmbeddings) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	batchSize := env.Config.MaxEmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	maxBatchTokens := env.Config.MaxEmbeddingBatchTokens
	if maxBatchTokens <= 0 {
		maxBatchTokens = 8000
	}
	enc, err := tiktoken.GetEncoding(partitionEncoding)
	if err != nil {
		return pipeline.Fatal, p, fmt.Errorf("gen_embeddings: load encoding: %w", err)
	}

	for _, target := range env.Embedders {
		var work []embedWork

		for _, f := range p.Files {
			for _, name := range f.GeneratedByType(document.TextPartition) {
				gen := f.GeneratedFiles[name]
				if hasEmbedderTag(gen, target.Name) {
					continue
				}
				text, err := readGenerated(ctx, env, p, gen.Name)
				if err != nil {
					return pipeline.TransientError, p, err
				}
				if strings.TrimSpace(text) == "" {
					continue
				}
				work = append(work, embedWork{file: f, name: name, text: text})
			}
		}

		for i := 0; i < len(work); {
			batch := greedyEmbedBatch(work[i:], enc, batchSize, maxBatchTokens)
			texts := make([]string, len(batch))
			for j, w := range batch {
				texts[j] = w.text
			}
			vectors, err := target.Generator.GenerateEmbeddingBatch(ctx, texts)
			if err != nil {
				return pipeline.TransientError, p, fmt.Errorf("gen_embeddings: %s: %w", target.Name, err)
			}
			if len(vectors) != len(batch) {
				return pipeline.Fatal, p, fmt.Errorf("gen_embeddings: %s returned %d vectors for %d inputs", target.Name, len(vectors), len(batch))
			}
			for j, w := range batch {
				if err := writeEmbedding(ctx, env, p, w.file, w.name, target.Name, vectors[j]); err != nil {
					return pipeline.TransientError, p, err
				}
			}
			i += len(batch)
		}
	}
	return pipeline.Complete, p, nil
}

// greedyEmbedBatch takes a prefix of items that fits both maxCount and a
// maxTokens sum over each item's encoded length, so a batch never asks an
// embedder to exceed either its element-count or token-budget limit
// (spec.md §4.5). The first item is always included even if it alone
// exceeds maxTokens, so an oversized partition still makes progress
// instead of stalling the step forever.
func greedyEmbedBatch(items []embedWork, enc *tiktoken.Tiktoken, maxCount, maxTokens int) []embedWork {
	tokens := 0
	n := 0
	for n < len(items) && n < maxCount {
		t := len(enc.Encode(items[n].text, nil, nil))
		if n > 0 && tokens+t > maxTokens {
			break
		}
		tokens += t
		n++
	}
	if n == 0 {
		n = 1
	}
	return items[:n]
}

func hasEmbedderTag(gen *document.GeneratedFileDetails, embedder string) bool {
	for _, v := range gen.Tags.Values(embedderTagKey) {
		if v != nil && *v == embedder {
			return true
		}
	}
	return false
}

func readGenerated(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline, name string) (string, error) {
	r, err := env.DocStore.ReadFile(ctx, p.Index, p.DocumentID, name)
	if err != nil {
		return "", err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeEmbedding(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline, f *document.FileDetails, partitionName, embedderName string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	vecName := fmt.Sprintf("%s.embed.%s.json", partitionName, embedderName)
	if err := env.DocStore.WriteFile(ctx, p.Index, p.DocumentID, vecName, strings.NewReader(string(data))); err != nil {
		return err
	}
	parent := f.GeneratedFiles[partitionName]
	tags := document.NewTags()
	_ = tags.Set(embedderTagKey, embedderName)
	f.AddGenerated(vecName, &document.GeneratedFileDetails{
		Name:            vecName,
		Size:            int64(len(data)),
		MimeType:        kmmime.JSON,
		ArtifactType:    document.TextEmbeddingVector,
		ParentID:        partitionName,
		PartitionNumber: parent.PartitionNumber,
		Tags:            tags,
	})
	// record that this partition has been embedded by embedderName, so a
	// re-run of this step after a crash skips it (spec.md §5 idempotence).
	if parent.Tags == nil {
		parent.Tags = document.NewTags()
	}
	_ = parent.Tags.Add(embedderTagKey, ptrString(embedderName))
	return nil
}

func ptrString(s string) *string { return &s }

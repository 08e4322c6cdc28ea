package steps

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kernel-memory/km/document"
	kmmime "github.com/kernel-memory/km/pkg/mime"
	"github.com/kernel-memory/km/pipeline"
)

// PartitionStepName is the registered name of the partition step.
const PartitionStepName = "partition"

// partitionEncoding is the tokenizer every Partition step shares;
// cl100k_base matches the embedding models spec.md targets.
const partitionEncoding = "cl100k_base"

// Partition splits each file's ExtractedContent into token-bounded
// chunks with a tail-token overlap between consecutive chunks, grounded
// on this module's token splitter: chunks end on the nearest punctuation
// boundary when one falls late enough in the chunk to keep.
type Partition struct{}

func (Partition) Name() string { return PartitionStepName }

func (s Partition) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	enc, err := tiktoken.GetEncoding(partitionEncoding)
	if err != nil {
		return pipeline.Fatal, p, fmt.Errorf("partition: load encoding: %w", err)
	}

	for _, f := range p.Files {
		if len(f.GeneratedByType(document.TextPartition)) > 0 {
			continue
		}
		extracted := f.GeneratedByType(document.ExtractedContent)
		if len(extracted) == 0 {
			continue // nothing to partition yet; extract runs first in DefaultSteps
		}

		for _, name := range extracted {
			gen := f.GeneratedFiles[name]
			r, err := env.DocStore.ReadFile(ctx, p.Index, p.DocumentID, gen.Name)
			if err != nil {
				return pipeline.TransientError, p, err
			}
			raw, err := io.ReadAll(r)
			_ = r.Close()
			if err != nil {
				return pipeline.TransientError, p, err
			}

			chunks := chunkText(string(raw), enc, env.Config.MaxTokensPerParagraph, env.Config.OverlappingTokens, env.Config.MaxTokensPerLine)
			for i, chunk := range chunks {
				partName := fmt.Sprintf("%s.partition.%04d.txt", f.Name, i)
				if err := env.DocStore.WriteFile(ctx, p.Index, p.DocumentID, partName, strings.NewReader(chunk)); err != nil {
					return pipeline.TransientError, p, err
				}
				f.AddGenerated(partName, &document.GeneratedFileDetails{
					Name:            partName,
					Size:            int64(len(chunk)),
					MimeType:        kmmime.TextPlain,
					ArtifactType:    document.TextPartition,
					ParentID:        f.ID,
					PartitionNumber: i,
				})
			}
		}
	}
	return pipeline.Complete, p, nil
}

// chunkText tokenizes text and emits chunks of at most maxTokens tokens
// each, truncated to the last sentence-or-newline boundary past
// minBoundaryChars characters into the chunk, then overlapping the next
// chunk by the last overlapTokens tokens of the one just emitted.
func chunkText(text string, enc *tiktoken.Tiktoken, maxTokens, overlapTokens, minBoundaryChars int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens := enc.Encode(text, nil, nil)
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 2
	}

	var chunks []string
	for start := 0; start < len(tokens); {
		end := min(start+maxTokens, len(tokens))
		chunkTokens := tokens[start:end]
		chunkText := enc.Decode(chunkTokens)

		boundary := lastPunctuation(chunkText)
		consumed := len(chunkTokens)
		if boundary != -1 && boundary > minBoundaryChars && end < len(tokens) {
			truncated := chunkText[:boundary+1]
			chunkText = truncated
			consumed = len(enc.Encode(truncated, nil, nil))
		}

		trimmed := strings.TrimSpace(chunkText)
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}

		if end >= len(tokens) {
			break
		}
		advance := consumed - overlapTokens
		if advance <= 0 {
			advance = consumed
		}
		start += advance
	}
	return chunks
}

func lastPunctuation(s string) int {
	idx := -1
	for _, p := range []string{".", "?", "!", "\n"} {
		if i := strings.LastIndex(s, p); i > idx {
			idx = i
		}
	}
	return idx
}

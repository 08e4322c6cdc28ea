package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/generation"
	kmmime "github.com/kernel-memory/km/pkg/mime"
	"github.com/kernel-memory/km/pipeline"
)

const summarizeSystemPrompt = "Summarize the following content in a few sentences, preserving facts and names."

// SummarizeStepName is the registered name of the optional summarize
// step; it is not part of pipeline.DefaultSteps and must be requested
// explicitly via orchestrator.UploadRequest.Steps.
const SummarizeStepName = "summarize"

// Summarize asks the configured text generator for a short synthetic
// summary of each file's extracted content and records it as a
// TextSummarization artifact tagged __syn=summary (spec.md §6).
// gen_embeddings embeds only TextPartition artifacts, so the summary is
// not embedded or saved as a vector record and search does not return it.
type Summarize struct{}

func (Summarize) Name() string { return SummarizeStepName }

func (s Summarize) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	if env.Generator == nil {
		return pipeline.Fatal, p, fmt.Errorf("summarize: no text generator configured")
	}
	for _, f := range p.Files {
		if len(f.GeneratedByType(document.TextSummarization)) > 0 {
			continue
		}
		var parts []string
		for _, name := range f.GeneratedByType(document.ExtractedContent) {
			text, err := readGenerated(ctx, env, p, name)
			if err != nil {
				return pipeline.TransientError, p, err
			}
			parts = append(parts, text)
		}
		if len(parts) == 0 {
			continue
		}

		req := generationRequest(env, strings.Join(parts, "\n\n"))
		summary, err := env.Generator.Generate(ctx, req)
		if err != nil {
			return pipeline.TransientError, p, err
		}

		genName := f.Name + ".summary.txt"
		if err := env.DocStore.WriteFile(ctx, p.Index, p.DocumentID, genName, strings.NewReader(summary)); err != nil {
			return pipeline.TransientError, p, err
		}
		tags := document.NewTags()
		_ = tags.Set(document.TagSynthetic, "summary")
		f.AddGenerated(genName, &document.GeneratedFileDetails{
			Name:         genName,
			Size:         int64(len(summary)),
			MimeType:     kmmime.TextPlain,
			ArtifactType: document.TextSummarization,
			ParentID:     f.ID,
			Tags:         tags,
		})
	}
	return pipeline.Complete, p, nil
}

func generationRequest(env *pipeline.Env, content string) generation.Request {
	maxTokens := env.Config.SummaryMaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return generation.Request{
		SystemPrompt: summarizeSystemPrompt,
		UserPrompt:   content,
		MaxTokens:    maxTokens,
	}
}

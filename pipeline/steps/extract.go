// Package steps implements the C7 step handlers (extract, partition,
// gen_embeddings, save_records, summarize, delete_document, delete_index)
// that pipeline.Orchestrator dispatches queued work to.
package steps

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kernel-memory/km/document"
	kmmime "github.com/kernel-memory/km/pkg/mime"
	"github.com/kernel-memory/km/pipeline"
)

// ExtractStepName is the registered name of the extract step.
const ExtractStepName = "extract"

// Extract reads each input file's raw bytes, detects its content type,
// and writes a plain-text ExtractedContent artifact every later step can
// chunk uniformly.
type Extract struct{}

func (Extract) Name() string { return ExtractStepName }

func (e Extract) Invoke(ctx context.Context, env *pipeline.Env, p *pipeline.DataPipeline) (pipeline.Outcome, *pipeline.DataPipeline, error) {
	for _, f := range p.Files {
		if len(f.GeneratedByType(document.ExtractedContent)) > 0 {
			continue // already extracted, re-running the step is a no-op (spec.md §5 idempotence)
		}
		r, err := env.DocStore.ReadFile(ctx, p.Index, p.DocumentID, f.Name)
		if err != nil {
			return pipeline.TransientError, p, err
		}
		raw, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return pipeline.TransientError, p, err
		}

		detected := mimetype.Detect(raw)
		f.MimeType = detected.String()
		text, err := e.toPlainText(raw, detected.String())
		if err != nil {
			return pipeline.Fatal, p, err
		}

		genName := f.Name + ".extract.txt"
		if err := env.DocStore.WriteFile(ctx, p.Index, p.DocumentID, genName, strings.NewReader(text)); err != nil {
			return pipeline.TransientError, p, err
		}
		f.AddGenerated(genName, &document.GeneratedFileDetails{
			Name:         genName,
			Size:         int64(len(text)),
			MimeType:     kmmime.TextPlain,
			ArtifactType: document.ExtractedContent,
			ParentID:     f.ID,
		})
	}
	return pipeline.Complete, p, nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// toPlainText extracts indexable text from raw bytes given its detected
// MIME type. Only text-family formats are handled; anything else is
// treated as opaque and extracted as-is, matching the "best effort"
// posture of spec.md §4.5's extract step.
func (Extract) toPlainText(raw []byte, detectedMIME string) (string, error) {
	m := kmmime.Parse(detectedMIME)
	switch {
	case m.String() == kmmime.TextHTML:
		stripped := htmlTagPattern.ReplaceAllString(string(raw), " ")
		return collapseWhitespace(stripped), nil
	case m.IsText():
		return string(raw), nil
	default:
		return string(raw), nil
	}
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	return strings.Join(lines, "\n")
}

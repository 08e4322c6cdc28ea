// Package embedding is the pluggable embedding generator (C4): turns
// text into fixed-dimension vectors for indexing and querying.
package embedding

import "context"

// Generator produces embeddings for one or many pieces of text.
// Implementations must be safe for concurrent use.
type Generator interface {
	// GenerateEmbedding embeds a single text.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateEmbeddingBatch embeds many texts in as few round trips as
	// the backend supports, preserving input order in the result.
	GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length this generator produces.
	Dimensions() int

	// MaxTokens is the largest input this generator accepts per text
	// (spec.md §5). The step handlers do not read it; partition size
	// comes from pipeline.Config.
	MaxTokens() int
}

package pipeline

import (
	"github.com/kernel-memory/km/docstore"
	"github.com/kernel-memory/km/embedding"
	"github.com/kernel-memory/km/generation"
	"github.com/kernel-memory/km/vectorstore"
)

// EmbedderTarget binds one embedding.Generator to the vector indexes
// it writes records into; a single embedder MAY target multiple
// indexes (spec.md §4.5 save_records).
type EmbedderTarget struct {
	Name      string
	Generator embedding.Generator
	Indexes   []string
}

// Config carries the chunking/embedding knobs step handlers consult.
type Config struct {
	MaxTokensPerParagraph int
	OverlappingTokens     int
	MaxTokensPerLine      int
	MaxEmbeddingBatchSize int
	// MaxEmbeddingBatchTokens bounds the sum of partition token counts
	// gen_embeddings puts in one GenerateEmbeddingBatch call, independent
	// of MaxEmbeddingBatchSize's element-count cap (spec.md §4.5).
	MaxEmbeddingBatchTokens int
	SummaryMaxTokens        int
	DefaultIndex            string
	EmptyAnswer             string
}

// DefaultConfig mirrors the defaults called out across spec.md §4.5/§7.
func DefaultConfig() Config {
	return Config{
		MaxTokensPerParagraph:   1000,
		OverlappingTokens:       100,
		MaxTokensPerLine:        300,
		MaxEmbeddingBatchSize:   100,
		MaxEmbeddingBatchTokens: 8000,
		SummaryMaxTokens:        500,
		DefaultIndex:            "default",
		EmptyAnswer:             "INFO NOT FOUND",
	}
}

// Env is the set of backing services every step handler is wired
// against, bundled so the orchestrator only needs to plumb one value
// through Step.Invoke.
type Env struct {
	DocStore  docstore.DocumentStore
	VectorDB  vectorstore.VectorStore
	Embedders []EmbedderTarget
	Generator generation.TextGenerator
	Config    Config
}

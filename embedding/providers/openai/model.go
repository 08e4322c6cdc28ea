// Package openai adapts embedding.Generator onto the OpenAI embeddings
// API, grounded on this module's OpenAI embedding call conventions
// (request construction, encoding format, dimension override).
package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/kernel-memory/km/embedding"
	"github.com/kernel-memory/km/kmerrors"
)

// knownDimensions is the fallback table used when Dimensions isn't set
// explicitly in Config, mirroring the model name switch this module's
// embedding provider keys off of.
var knownDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// knownMaxTokens mirrors OpenAI's published per-model input ceilings.
var knownMaxTokens = map[string]int{
	"text-embedding-ada-002": 8191,
	"text-embedding-3-small": 8191,
	"text-embedding-3-large": 8191,
}

// Config configures a Generator.
type Config struct {
	Model      string
	Dimensions int
	MaxTokens  int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = string(openai.SmallEmbedding3)
	}
	if c.Dimensions == 0 {
		c.Dimensions = knownDimensions[c.Model]
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = knownMaxTokens[c.Model]
	}
	return c
}

// Generator adapts an *openai.Client to embedding.Generator.
type Generator struct {
	client *openai.Client
	cfg    Config
}

var _ embedding.Generator = (*Generator)(nil)

// New wraps client, which must already carry a valid API key.
func New(client *openai.Client, cfg Config) *Generator {
	return &Generator{client: client, cfg: cfg.withDefaults()}
}

func (g *Generator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := g.GenerateEmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (g *Generator) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(g.cfg.Model),
		Dimensions: g.cfg.Dimensions,
	})
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "openai.GenerateEmbeddingBatch", fmt.Errorf("embed %d texts: %w", len(texts), err))
	}
	if len(resp.Data) != len(texts) {
		return nil, kmerrors.Newf(kmerrors.Fatal, "openai.GenerateEmbeddingBatch",
			"requested %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (g *Generator) Dimensions() int { return g.cfg.Dimensions }
func (g *Generator) MaxTokens() int  { return g.cfg.MaxTokens }

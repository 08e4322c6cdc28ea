// Package retrieval implements the query-time retrieval engine (C8):
// similarity search over a vector store plus grounded-answer
// composition with citations.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/embedding"
	"github.com/kernel-memory/km/generation"
	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/vectorstore"
)

// retrievalEncoding is the tokenizer used to budget the prompt handed to
// the text generator; matches the one partitioning chunks text with.
const retrievalEncoding = "cl100k_base"

// Config carries the defaults Search/Ask fall back on when a caller
// passes a zero value.
type Config struct {
	Limit             int
	MinRelevance      float64
	PromptTokenBudget int
	EmptyAnswer       string
}

// DefaultConfig mirrors the defaults spec.md §4.6 calls out.
func DefaultConfig() Config {
	return Config{
		Limit:             10,
		MinRelevance:       0,
		PromptTokenBudget: 3000,
		EmptyAnswer:       "INFO NOT FOUND",
	}
}

// Partition is one matched chunk of text within a Citation.
type Partition struct {
	Text            string
	Relevance       float64
	PartitionNumber int
	SectionNumber   int
	LastUpdate      time.Time
}

// Citation groups every matched Partition from one (document, file) pair.
type Citation struct {
	DocumentID string
	FileID     string
	SourceName string
	Partitions []Partition
}

// SearchResult is the response to Search: matched records grouped by
// their originating document/file.
type SearchResult struct {
	Query   string
	Results []Citation
}

// MemoryAnswer is the response to Ask: grounded generation text plus
// the citations it was grounded on.
type MemoryAnswer struct {
	Question        string
	NoResult        bool
	Text            string
	RelevantSources []Citation
}

// StreamState tags one event of a streaming Ask response.
type StreamState int

const (
	// StreamAppend carries an incremental answer fragment.
	StreamAppend StreamState = iota
	// StreamLast carries the final event with full RelevantSources.
	StreamLast
)

// AnswerStreamEvent is one event of a streaming Ask call.
type AnswerStreamEvent struct {
	Question        string
	StreamState     StreamState
	TextFragment    string
	RelevantSources []Citation
}

// Engine is the retrieval engine (C8), bound to one embedder, one
// vector store, and one text generator.
type Engine struct {
	Embedder  embedding.Generator
	VectorDB  vectorstore.VectorStore
	Generator generation.TextGenerator
	Config    Config
}

// New creates an Engine.
func New(embedder embedding.Generator, vdb vectorstore.VectorStore, gen generation.TextGenerator, cfg Config) *Engine {
	return &Engine{Embedder: embedder, VectorDB: vdb, Generator: gen, Config: cfg}
}

func (e *Engine) limitOrDefault(limit int) int {
	if limit > 0 {
		return limit
	}
	if e.Config.Limit > 0 {
		return e.Config.Limit
	}
	return 10
}

// Search embeds query, fetches the nearest records in index honoring
// filters/minRelevance/limit, and groups them into Citations ordered by
// descending best-partition relevance, deduplicated by (documentId,
// fileId) with partitions kept in the order they were matched
// (spec.md §4.6).
func (e *Engine) Search(ctx context.Context, index, query string, filters vectorstore.Filters, limit int, minRelevance float64) (*SearchResult, error) {
	limit = e.limitOrDefault(limit)
	vec, err := e.Embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval.Search: embed query: %w", err)
	}

	reader, err := e.VectorDB.GetSimilarList(ctx, index, vec, filters, minRelevance, limit)
	if kmerrors.Is(err, kmerrors.NotFound) {
		// Searching an index that doesn't exist yet is semantically an
		// empty result, not a failure (spec.md §7).
		return &SearchResult{Query: query, Results: []Citation{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval.Search: %w", err)
	}

	var order []string
	citations := map[string]*Citation{}
	for {
		scored, err := reader.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("retrieval.Search: %w", err)
		}
		rec := scored.Record
		docID := rec.DocumentID()
		fileID := rec.FileID()
		key := docID + "/" + fileID
		c, ok := citations[key]
		if !ok {
			c = &Citation{DocumentID: docID, FileID: fileID, SourceName: sourceName(rec)}
			citations[key] = c
			order = append(order, key)
		}
		c.Partitions = append(c.Partitions, partitionFromRecord(rec, scored.Score))
	}

	out := make([]Citation, 0, len(order))
	for _, key := range order {
		out = append(out, *citations[key])
	}
	return &SearchResult{Query: query, Results: out}, nil
}

func sourceName(rec *vectorstore.MemoryRecord) string {
	if name, ok := rec.Payload["file"]; ok {
		if s, ok := name.(string); ok {
			return s
		}
	}
	return ""
}

func partitionFromRecord(rec *vectorstore.MemoryRecord, score float64) Partition {
	text, _ := rec.Payload["text"].(string)
	partNum := firstInt(rec.Tags, document.TagPartitionNum)
	sectNum := firstInt(rec.Tags, document.TagSectionNum)
	return Partition{
		Text:            text,
		Relevance:       score,
		PartitionNumber: partNum,
		SectionNumber:   sectNum,
	}
}

func firstInt(t document.Tags, key string) int {
	for _, v := range t.Values(key) {
		if v == nil {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(*v, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

const groundedSystemPrompt = "Answer the question using only the facts below. " +
	"If the facts do not contain the answer, say so exactly rather than guessing."

// Ask performs Search followed by grounded generation: the accumulated
// partitions (bounded by Config.PromptTokenBudget) become "facts" in a
// prompt alongside the question, and C5 generates the answer
// (spec.md §4.6).
func (e *Engine) Ask(ctx context.Context, index, question string, filters vectorstore.Filters, minRelevance float64) (*MemoryAnswer, error) {
	result, facts, err := e.searchAndBudget(ctx, index, question, filters, minRelevance)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return &MemoryAnswer{Question: question, NoResult: true, Text: e.emptyAnswer()}, nil
	}

	text, err := e.Generator.Generate(ctx, generation.Request{
		SystemPrompt: groundedSystemPrompt,
		UserPrompt:   buildPrompt(facts, question),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval.Ask: %w", err)
	}
	return &MemoryAnswer{Question: question, Text: text, RelevantSources: result.Results}, nil
}

// AskStream is the streaming variant of Ask: onEvent is called once
// with an empty-result question event, then once per generated text
// fragment (StreamAppend), then once more with the full citation list
// (StreamLast).
func (e *Engine) AskStream(ctx context.Context, index, question string, filters vectorstore.Filters, minRelevance float64, onEvent func(AnswerStreamEvent)) (*MemoryAnswer, error) {
	onEvent(AnswerStreamEvent{Question: question})

	result, facts, err := e.searchAndBudget(ctx, index, question, filters, minRelevance)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		answer := e.emptyAnswer()
		onEvent(AnswerStreamEvent{Question: question, StreamState: StreamLast, TextFragment: answer})
		return &MemoryAnswer{Question: question, NoResult: true, Text: answer}, nil
	}

	text, err := e.Generator.GenerateStream(ctx, generation.Request{
		SystemPrompt: groundedSystemPrompt,
		UserPrompt:   buildPrompt(facts, question),
	}, func(chunk string) {
		onEvent(AnswerStreamEvent{Question: question, StreamState: StreamAppend, TextFragment: chunk})
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval.AskStream: %w", err)
	}
	onEvent(AnswerStreamEvent{Question: question, StreamState: StreamLast, RelevantSources: result.Results})
	return &MemoryAnswer{Question: question, Text: text, RelevantSources: result.Results}, nil
}

func (e *Engine) emptyAnswer() string {
	if e.Config.EmptyAnswer != "" {
		return e.Config.EmptyAnswer
	}
	return "INFO NOT FOUND"
}

// searchAndBudget runs Search and then trims its partitions to the
// configured prompt-token budget, returning the facts that fit.
func (e *Engine) searchAndBudget(ctx context.Context, index, question string, filters vectorstore.Filters, minRelevance float64) (*SearchResult, []string, error) {
	result, err := e.Search(ctx, index, question, filters, e.Config.Limit, minRelevance)
	if err != nil {
		return nil, nil, err
	}

	budget := e.Config.PromptTokenBudget
	if budget <= 0 {
		budget = 3000
	}
	enc, err := tiktoken.GetEncoding(retrievalEncoding)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieval: load encoding: %w", err)
	}

	var facts []string
	spent := 0
	var kept []Citation
	for _, c := range result.Results {
		var keptParts []Partition
		for _, part := range c.Partitions {
			n := len(enc.Encode(part.Text, nil, nil))
			if spent+n > budget && spent > 0 {
				break
			}
			facts = append(facts, part.Text)
			keptParts = append(keptParts, part)
			spent += n
		}
		if len(keptParts) > 0 {
			c.Partitions = keptParts
			kept = append(kept, c)
		}
		if spent >= budget {
			break
		}
	}
	result.Results = kept
	return result, facts, nil
}

func buildPrompt(facts []string, question string) string {
	var b strings.Builder
	b.WriteString("Facts:\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(f))
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

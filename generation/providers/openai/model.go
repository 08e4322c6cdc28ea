// Package openai adapts generation.TextGenerator onto OpenAI chat
// completions, grounded on this module's OpenAI chat model's Call/Stream
// split (streaming aggregates chunks from the client's stream reader).
package openai

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/kernel-memory/km/generation"
	"github.com/kernel-memory/km/kmerrors"
)

// knownMaxInputTokens mirrors the published context windows of the
// chat models this provider is expected to run against.
var knownMaxInputTokens = map[string]int{
	openai.GPT4o:     128000,
	openai.GPT4oMini: 128000,
	openai.GPT4Turbo: 128000,
}

// Config configures a Generator.
type Config struct {
	Model          string
	MaxInputTokens int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxInputTokens == 0 {
		c.MaxInputTokens = knownMaxInputTokens[c.Model]
	}
	if c.MaxInputTokens == 0 {
		c.MaxInputTokens = 8192
	}
	return c
}

// Generator adapts an *openai.Client to generation.TextGenerator.
type Generator struct {
	client *openai.Client
	cfg    Config
}

var _ generation.TextGenerator = (*Generator)(nil)

// New wraps client, which must already carry a valid API key.
func New(client *openai.Client, cfg Config) *Generator {
	return &Generator{client: client, cfg: cfg.withDefaults()}
}

func (g *Generator) buildRequest(req generation.Request, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})
	return openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (g *Generator) Generate(ctx context.Context, req generation.Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(req, false))
	if err != nil {
		return "", kmerrors.New(kmerrors.Transient, "openai.Generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", kmerrors.New(kmerrors.Fatal, "openai.Generate", errors.New("no completion choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *Generator) GenerateStream(ctx context.Context, req generation.Request, onToken func(chunk string)) (string, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, g.buildRequest(req, true))
	if err != nil {
		return "", kmerrors.New(kmerrors.Transient, "openai.GenerateStream", err)
	}
	defer stream.Close()

	var full []byte
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return string(full), kmerrors.New(kmerrors.Transient, "openai.GenerateStream", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full = append(full, delta...)
		if onToken != nil {
			onToken(delta)
		}
	}
	return string(full), nil
}

func (g *Generator) MaxInputTokens() int { return g.cfg.MaxInputTokens }

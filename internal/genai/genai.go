// Package genai provides LLM-backed extraction, generation, and embedding
// operations using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// Default models used when no option overrides them.
const (
	DefaultChatModel      = openai.ChatModelGPT4oMini
	DefaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// embeddingService defines the minimal interface for embeddings.
type embeddingService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// ClientInterface is the capability surface the pipeline depends on.
// Tests substitute mock implementations.
type ClientInterface interface {
	// Generate produces free-form text from a system and user prompt.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ExtractJSON asks the model for a single JSON object matching the
	// shape of out and unmarshals into it. Failures are ExtractionErrors.
	ExtractJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey         string
	ChatModel      openai.ChatModel
	EmbeddingModel openai.EmbeddingModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key (overrides $OPENAI_API_KEY).
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithChatModel sets the chat completion model.
func WithChatModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.ChatModel = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model openai.EmbeddingModel) Option {
	return func(o *Opts) { o.EmbeddingModel = model }
}

// Client wraps the OpenAI chat and embedding services.
type Client struct {
	chat       chatService
	embeddings embeddingService
	chatModel  openai.ChatModel
	embedModel openai.EmbeddingModel
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	slog.Debug("genai.NewClient: client configured", "chat_model", cfg.ChatModel, "embedding_model", cfg.EmbeddingModel)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:       &cli.Chat.Completions,
		embeddings: &cli.Embeddings,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbeddingModel,
	}, nil
}

// Generate produces a free-form response from the given prompts.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		slog.Error("genai.Generate: chat completion failed", "error", err)
		return "", &models.ExtractionError{Op: "generate", Err: err}
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.Generate: no choices returned")
		return "", &models.ExtractionError{Op: "generate", Err: fmt.Errorf("no choices returned")}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai.Generate: completion succeeded", "response_length", len(text))
	return text, nil
}

// ExtractJSON runs a structured extraction and decodes the model's JSON
// object into out. The system prompt should describe the expected fields.
func (c *Client) ExtractJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.chatModel,
		Temperature: openai.Float(0),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt + "\nRespond with a single JSON object and nothing else."),
			openai.UserMessage(userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		slog.Error("genai.ExtractJSON: chat completion failed", "error", err)
		return &models.ExtractionError{Op: "extract", Err: err}
	}
	if len(resp.Choices) == 0 {
		return &models.ExtractionError{Op: "extract", Err: fmt.Errorf("no choices returned")}
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		slog.Error("genai.ExtractJSON: malformed model output", "error", err, "content_length", len(content))
		return &models.ExtractionError{Op: "extract", Err: fmt.Errorf("malformed model output: %w", err)}
	}
	slog.Debug("genai.ExtractJSON: extraction succeeded", "content_length", len(content))
	return nil
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embedModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		slog.Error("genai.Embed: embedding request failed", "error", err)
		return nil, &models.ExtractionError{Op: "embed", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &models.ExtractionError{Op: "embed", Err: fmt.Errorf("no embedding returned")}
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	slog.Debug("genai.Embed: embedding computed", "dimensions", len(vec))
	return vec, nil
}

package genai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

type fakeChat struct {
	content string
	err     error
	calls   int
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

type fakeEmbeddings struct {
	vector []float64
	err    error
}

func (f *fakeEmbeddings) New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{{Embedding: f.vector}},
	}, nil
}

func newTestClient(chat *fakeChat, emb *fakeEmbeddings) *Client {
	return &Client{
		chat:       chat,
		embeddings: emb,
		chatModel:  DefaultChatModel,
		embedModel: DefaultEmbeddingModel,
	}
}

func TestGenerate_Success(t *testing.T) {
	chat := &fakeChat{content: "  Ciao! Come posso aiutarti?  "}
	c := newTestClient(chat, &fakeEmbeddings{})

	out, err := c.Generate(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Ciao! Come posso aiutarti?" {
		t.Errorf("expected trimmed content, got %q", out)
	}
	if chat.calls != 1 {
		t.Errorf("expected 1 chat call, got %d", chat.calls)
	}
}

func TestGenerate_FailureIsExtractionError(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("rate limited")}
	c := newTestClient(chat, &fakeEmbeddings{})

	_, err := c.Generate(context.Background(), "system", "user")
	var extractionErr *models.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected ExtractionError, got %T: %v", err, err)
	}
	if extractionErr.Op != "generate" {
		t.Errorf("expected op %q, got %q", "generate", extractionErr.Op)
	}
}

func TestExtractJSON_DecodesTypedValue(t *testing.T) {
	chat := &fakeChat{content: `{"intent":"purchase","budget":250000,"entities":["trilocale"]}`}
	c := newTestClient(chat, &fakeEmbeddings{})

	var got models.IntentExtraction
	if err := c.ExtractJSON(context.Background(), "system", "voglio comprare", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Intent != models.IntentPurchase {
		t.Errorf("expected intent purchase, got %q", got.Intent)
	}
	if got.Budget != 250000 {
		t.Errorf("expected budget 250000, got %v", got.Budget)
	}
	if len(got.Entities) != 1 || got.Entities[0] != "trilocale" {
		t.Errorf("unexpected entities: %v", got.Entities)
	}
}

func TestExtractJSON_MalformedOutput(t *testing.T) {
	chat := &fakeChat{content: "not json at all"}
	c := newTestClient(chat, &fakeEmbeddings{})

	var got models.IntentExtraction
	err := c.ExtractJSON(context.Background(), "system", "user", &got)
	var extractionErr *models.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected ExtractionError, got %T: %v", err, err)
	}
}

func TestEmbed_ConvertsToFloat32(t *testing.T) {
	emb := &fakeEmbeddings{vector: []float64{0.25, -0.5, 1.0}}
	c := newTestClient(&fakeChat{}, emb)

	vec, err := c.Embed(context.Background(), "bilocale in centro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(vec))
	}
	if vec[0] != 0.25 || vec[1] != -0.5 || vec[2] != 1.0 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestEmbed_Failure(t *testing.T) {
	emb := &fakeEmbeddings{err: fmt.Errorf("service unavailable")}
	c := newTestClient(&fakeChat{}, emb)

	_, err := c.Embed(context.Background(), "query")
	var extractionErr *models.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected ExtractionError, got %T: %v", err, err)
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
}

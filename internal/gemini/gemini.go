// Package gemini implements the embedding and generation contracts on
// top of the Gemini API via google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/embed"
)

const (
	// DefaultEmbedderModel outputs 3072 dimensions by default but
	// supports truncation to embed.Dimension via OutputDimensionality
	// (Matryoshka Representation Learning).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultGenerativeModel handles chat generation.
	DefaultGenerativeModel = "gemini-2.5-flash"

	// embedTimeout bounds a single embedding call; the provider is the
	// unbounded-latency dependency here, not the database.
	embedTimeout = 10 * time.Second

	// generateTimeout bounds a single generation call.
	generateTimeout = 60 * time.Second
)

// Config holds the Gemini client settings.
type Config struct {
	APIKey          string
	EmbedderModel   string
	GenerativeModel string
	Temperature     float32
	MaxOutputTokens int32
}

// Client wraps a genai client and satisfies both embed.Embedder and
// chat.Generator.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.EmbedderModel == "" {
		cfg.EmbedderModel = DefaultEmbedderModel
	}
	if cfg.GenerativeModel == "" {
		cfg.GenerativeModel = DefaultGenerativeModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{client: client, cfg: cfg, logger: logger}, nil
}

// Embed generates a fixed-dimension vector for the given text.
// Provider failures and dimension mismatches wrap embed.ErrProvider.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbedderModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(embed.Dimension)),
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embed.ErrProvider, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", embed.ErrProvider)
	}

	vec := resp.Embeddings[0].Values
	if err := embed.ValidateVector(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Generate produces a model response for the assembled prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (*chat.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.GenerativeModel,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(c.cfg.Temperature),
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty generation response")
	}

	gen := &chat.Generation{Text: text}
	if resp.UsageMetadata != nil {
		gen.Usage = chat.Usage{
			PromptTokens: resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return gen, nil
}

package ollama_provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// Client implements the provider backend against a local Ollama server.
// Useful when no hosted LLM is available or for offline development.
type Client struct {
	client         *api.Client
	embeddingModel string
	timeout        time.Duration
}

// NewClient creates a new Ollama client. host overrides OLLAMA_HOST when set.
func NewClient(host, embeddingModel string, timeout time.Duration) (*Client, error) {
	hostURL := envconfig.Host()
	if host != "" {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host: %w", err)
		}
		hostURL = parsed
	}
	return &Client{
		client:         api.NewClient(hostURL, http.DefaultClient),
		embeddingModel: embeddingModel,
		timeout:        timeout,
	}, nil
}

// Complete generates a non-streaming response for the prompt.
func (c *Client) Complete(ctx context.Context, model string, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Options: map[string]interface{}{
			"temperature": 0.1,
		},
	}

	var sb strings.Builder
	err := c.client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := sb.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	return sb.String(), nil
}

// CreateEmbedding embeds each text sequentially. Ollama embeds one prompt
// per request, so the batch is looped client-side.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.Embeddings(reqCtx, &api.EmbeddingRequest{
			Model:  c.embeddingModel,
			Prompt: text,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding: %w", err)
		}
		vec := make([]float32, len(resp.Embedding))
		for j, f := range resp.Embedding {
			vec[j] = float32(f)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

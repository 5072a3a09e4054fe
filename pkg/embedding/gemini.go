package embedding

import (
	"context"
	"fmt"
	"sync"

	"ctxbot-go/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

// geminiClient embeds text through the Gemini API. The genai client is created on first use.
type geminiClient struct {
	cfg    config.EmbeddingConfig
	mu     sync.Mutex
	client *genai.Client
}

func newGeminiClient(cfg config.EmbeddingConfig) *geminiClient {
	return &geminiClient{cfg: cfg}
}

func (c *geminiClient) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *geminiClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	client, err := c.genaiClient(ctx)
	if err != nil {
		return nil, err
	}
	modelName := c.cfg.Model
	if modelName == "" {
		modelName = defaultGeminiEmbeddingModel
	}
	res, err := client.EmbeddingModel(modelName).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (c *geminiClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

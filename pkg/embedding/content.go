package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ctxbot-go/internal/config"
	"ctxbot-go/pkg/log"
)

// contentClient speaks the plain {content} -> {embedding} protocol.
// BaseURL is the full endpoint URL.
type contentClient struct {
	cfg     config.EmbeddingConfig
	session session
}

func newContentClient(cfg config.EmbeddingConfig) *contentClient {
	return &contentClient{cfg: cfg}
}

type contentRequest struct {
	Content string `json:"content"`
}

type contentResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *contentClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	log.Debugf("[EmbeddingClient] 调用 content embedding 接口, input_len: %d", len(text))
	reqBytes, err := json.Marshal(contentRequest{Content: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.session.get().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, bytes.TrimSpace(body))
	}

	var out contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from api")
	}
	return out.Embedding, nil
}

func (c *contentClient) Close() error {
	c.session.close()
	return nil
}

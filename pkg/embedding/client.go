// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ctxbot-go/internal/config"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// Close releases the underlying session. A later call opens a new one.
	Close() error
}

// NewClient creates an embedding client for the configured provider,
// wrapped with bounded retry and exponential backoff.
func NewClient(cfg config.EmbeddingConfig) (Client, error) {
	var inner Client
	switch strings.ToLower(cfg.Provider) {
	case "", "content":
		inner = newContentClient(cfg)
	case "openai":
		inner = newOpenAICompatibleClient(cfg)
	case "gemini":
		inner = newGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return NewRetryingClient(inner, cfg.MaxAttempts, cfg.InitialBackoff), nil
}

// session lazily creates an http.Client on first use and reuses it until closed.
type session struct {
	mu     sync.Mutex
	client *http.Client
}

func (s *session) get() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return s.client
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
}

package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/pkg/log"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
)

type retryingClient struct {
	inner       Client
	maxAttempts int
	backoff     time.Duration
}

// NewRetryingClient wraps inner so that each CreateEmbedding makes up to maxAttempts
// calls, sleeping initialBackoff after the first failure and doubling it each time.
// Non-positive values fall back to 3 attempts and 1s.
func NewRetryingClient(inner Client, maxAttempts int, initialBackoff time.Duration) Client {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	return &retryingClient{inner: inner, maxAttempts: maxAttempts, backoff: initialBackoff}
}

// CreateEmbedding rejects empty text before any network call. When every attempt
// fails it returns *apperrors.EmbeddingUnavailableError with one reason per attempt.
// A cancelled ctx stops the sequence at the next backoff boundary.
func (c *retryingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding input is empty: %w", apperrors.ErrMalformedInput)
	}

	backoff := c.backoff
	reasons := make([]string, 0, c.maxAttempts)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		vector, err := c.inner.CreateEmbedding(ctx, text)
		if err == nil {
			return vector, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		reasons = append(reasons, err.Error())
		log.Warnf("[EmbeddingClient] 第 %d/%d 次调用失败: %v", attempt, c.maxAttempts, err)

		if attempt == c.maxAttempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, &apperrors.EmbeddingUnavailableError{Attempts: reasons}
}

func (c *retryingClient) Close() error {
	return c.inner.Close()
}

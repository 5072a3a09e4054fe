package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptCounter 记录每个任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, jobID string) (int64, error)
	Reset(ctx context.Context, jobID string) error
}

const attemptsTTL = 24 * time.Hour

func attemptsKey(jobID string) string {
	return fmt.Sprintf("kafka:attempts:%s", jobID)
}

// RedisAttemptCounter 把失败次数存在 Redis 中，24 小时过期。
type RedisAttemptCounter struct {
	client *redis.Client
}

// NewRedisAttemptCounter 创建一个基于 Redis 的计数器。
func NewRedisAttemptCounter(client *redis.Client) *RedisAttemptCounter {
	return &RedisAttemptCounter{client: client}
}

func (c *RedisAttemptCounter) Incr(ctx context.Context, jobID string) (int64, error) {
	key := attemptsKey(jobID)
	attempts, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.client.Expire(ctx, key, attemptsTTL).Err()
	return attempts, nil
}

func (c *RedisAttemptCounter) Reset(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, attemptsKey(jobID)).Err()
}

// MemoryAttemptCounter 是未启用 Redis 时使用的进程内计数器。
type MemoryAttemptCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryAttemptCounter() *MemoryAttemptCounter {
	return &MemoryAttemptCounter{counts: make(map[string]int64)}
}

func (c *MemoryAttemptCounter) Incr(_ context.Context, jobID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[jobID]++
	return c.counts[jobID], nil
}

func (c *MemoryAttemptCounter) Reset(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, jobID)
	return nil
}

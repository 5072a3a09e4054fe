package database

import (
	"context"
	"fmt"
	"time"

	"ctxbot-go/internal/config"
	"ctxbot-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 在 database.redis.enabled 为 true 时可用，承载分布式 chat 锁与 Kafka 重试计数。
var RDB *redis.Client

const redisPingTimeout = 5 * time.Second

// OpenRedis 创建客户端并 PING 一次。连接失败时关闭客户端并返回错误。
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Addr, err)
	}
	return client, nil
}

// InitRedis 初始化全局 RDB，失败时直接退出。
func InitRedis(ctx context.Context, cfg config.RedisConfig) {
	client, err := OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	RDB = client
	log.Infof("Redis client connected to %s (db %d)", cfg.Addr, cfg.DB)
}

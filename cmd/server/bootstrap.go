package main

import (
	"context"
	"fmt"

	"ctxbot-go/internal/config"
	"ctxbot-go/internal/knowledge"
	"ctxbot-go/pkg/embedding"
	"ctxbot-go/pkg/es"
	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/storage"
)

// loadConfig 初始化全局配置与日志记录器。
func loadConfig() config.Config {
	config.Init(configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg
}

// loadCLIConfig 用于一次性命令：日志只保留警告以上，避免混入命令输出。
func loadCLIConfig() config.Config {
	config.Init(configPath)
	cfg := config.Conf
	level := cfg.Log.Level
	if level != "debug" {
		level = "warn"
	}
	log.Init(level, "console", cfg.Log.OutputPath)
	return cfg
}

// ensureMinIO 在首次需要时初始化全局 MinIO 客户端。
func ensureMinIO(cfg config.MinIOConfig) error {
	if storage.MinioClient != nil {
		return nil
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is not configured")
	}
	return storage.InitMinIO(cfg)
}

// openKnowledge 按配置选择持久化后端与索引，打开知识库。
func openKnowledge(ctx context.Context, cfg config.Config) (*knowledge.Store, embedding.Client, error) {
	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}

	var backend knowledge.Backend
	switch cfg.Knowledge.Backend {
	case "", "file":
		backend = knowledge.NewFileBackend(cfg.Knowledge.Path)
	case "minio":
		if err := ensureMinIO(cfg.MinIO); err != nil {
			return nil, nil, err
		}
		backend = knowledge.NewMinIOBackend(storage.MinioClient, cfg.MinIO.BucketName, cfg.Knowledge.ObjectName)
	default:
		return nil, nil, fmt.Errorf("unknown knowledge backend %q", cfg.Knowledge.Backend)
	}

	var opts []knowledge.Option
	switch cfg.Knowledge.Index {
	case "", "linear":
	case "elasticsearch":
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			return nil, nil, fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
		}
		opts = append(opts, knowledge.WithIndex(knowledge.NewESIndex(es.ESClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Model)))
	default:
		return nil, nil, fmt.Errorf("unknown knowledge index %q", cfg.Knowledge.Index)
	}

	store, err := knowledge.Open(ctx, embedder, backend, opts...)
	if err != nil {
		_ = embedder.Close()
		return nil, nil, err
	}
	return store, embedder, nil
}

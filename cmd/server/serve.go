package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"ctxbot-go/internal/config"
	"ctxbot-go/internal/handler"
	"ctxbot-go/internal/knowledge"
	"ctxbot-go/internal/model"
	"ctxbot-go/internal/pipeline"
	"ctxbot-go/internal/repository"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/database"
	"ctxbot-go/pkg/kafka"
	"ctxbot-go/pkg/llm"
	"ctxbot-go/pkg/lock"
	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/storage"
	"ctxbot-go/pkg/telegram"
	"ctxbot-go/pkg/tika"
	"ctxbot-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// chatLockTTL 是 Redis 中单个 chat 锁的过期时间，需覆盖一次完整的生成。
const chatLockTTL = 2 * time.Minute

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP admin API, websocket chat, Telegram poller and ingestion consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(loadConfig())
		},
	})
}

func serve(cfg config.Config) error {
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 初始化数据库和 Redis
	database.InitDB(cfg.Database.Driver, cfg.Database.DSN)
	var (
		locker  lock.Locker
		counter kafka.AttemptCounter
	)
	if cfg.Database.Redis.Enabled {
		database.InitRedis(ctx, cfg.Database.Redis)
		locker = lock.NewRedisLocker(database.RDB, chatLockTTL)
		counter = kafka.NewRedisAttemptCounter(database.RDB)
	} else {
		locker = lock.NewLocalLocker()
		counter = kafka.NewMemoryAttemptCounter()
	}

	// 2. 初始化知识库
	store, embedder, err := openKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()
	if cfg.Knowledge.ReindexOnStart {
		if _, err := store.Reindex(ctx); err != nil {
			log.Warnf("重建知识索引失败: %v", err)
		}
	}

	// 3. 初始化入库管道，未配置的依赖保持为 nil 接口
	var (
		extractor pipeline.TextExtractor
		objects   pipeline.ObjectFetcher
		documents service.DocumentStore
	)
	if cfg.Tika.ServerURL != "" {
		extractor = tika.NewClient(cfg.Tika)
	}
	if cfg.MinIO.Endpoint != "" {
		if err := ensureMinIO(cfg.MinIO); err != nil {
			return err
		}
		objectStore := storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName)
		objects, documents = objectStore, objectStore
	}
	processor := pipeline.NewProcessor(store, extractor, objects)

	var (
		enqueue service.EnqueueFunc
		workers sync.WaitGroup
	)
	if cfg.Kafka.Enabled {
		kafka.InitProducer(cfg.Kafka)
		defer kafka.CloseProducer()
		enqueue = kafka.ProduceIngestTask
		workers.Add(1)
		go func() {
			defer workers.Done()
			kafka.StartConsumer(ctx, cfg.Kafka, processor, counter)
		}()
	}
	if cfg.Knowledge.SeedDir != "" {
		go seedDocuments(ctx, cfg.Knowledge.SeedDir, store, processor)
	}

	// 4. 初始化生成模型与机器人身份
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return err
	}
	defer llmClient.Close()

	bot := model.BotIdentity{ID: cfg.Bot.UserID, Username: cfg.Bot.Username}
	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		tg = telegram.NewClient(cfg.Telegram.APIBase, cfg.Telegram.Token, cfg.Telegram.RequestTimeout)
		me, err := tg.GetMe(ctx)
		if err != nil {
			return fmt.Errorf("telegram getMe 失败: %w", err)
		}
		bot = model.BotIdentity{ID: me.ID, Username: me.UserName}
		log.Infof("Telegram 机器人身份: @%s (%d)", me.UserName, me.ID)
	}

	// 5. 初始化 Repository 与 Service (依赖注入)
	messageRepo := repository.NewMessageRepository(database.DB)
	contextService := service.NewContextService(messageRepo, store, cfg.Bot.KnowledgeFailure)
	chatService := service.NewChatService(messageRepo, contextService, llmClient, locker, service.ChatOptions{
		Bot:          bot,
		Settings:     cfg.Bot,
		EditInterval: cfg.Telegram.EditInterval,
		SystemPrompt: cfg.LLM.Prompt.Rules,
		Generation:   llm.ParamsFromConfig(cfg.LLM.Generation),
	})
	knowledgeService := service.NewKnowledgeService(store, documents, processor, enqueue)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	authService := service.NewAuthService(cfg.Admin, jwtManager)

	// 6. 启动 Telegram 轮询
	if tg != nil {
		telegramHandler := handler.NewTelegramHandler(tg, chatService, cfg.Telegram.PollTimeout)
		if err := telegramHandler.RegisterCommands(ctx); err != nil {
			log.Warnf("注册 Telegram 命令失败: %v", err)
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			telegramHandler.Run(ctx)
		}()
	}

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	router := handler.NewRouter(jwtManager, handler.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		Knowledge: handler.NewKnowledgeHandler(knowledgeService, cfg.Bot),
		History:   handler.NewHistoryHandler(messageRepo, chatService, cfg.Bot),
		Chat:      handler.NewChatHandler(chatService, jwtManager),
		Health:    handler.NewHealthHandler(healthChecks(cfg)),
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("接收到停机信号，正在关闭服务...")
	case err := <-serveErr:
		stop()
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	}

	// 设置一个5秒的超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	// 等待 Telegram worker 与 Kafka 消费者处理完当前消息
	workers.Wait()
	log.Info("服务已优雅关闭")
	return nil
}

func healthChecks(cfg config.Config) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if cfg.Database.Redis.Enabled {
		checks["redis"] = func(ctx context.Context) error {
			return database.RDB.Ping(ctx).Err()
		}
	}
	if cfg.Tika.ServerURL != "" {
		checks["tika"] = tika.NewClient(cfg.Tika).Ping
	}
	return checks
}

// seedDocuments 扫描目录下的文档并入库（幂等）。文件名（不含扩展名）作为分块标题前缀，
// 第一个分块已存在时视为已导入。
func seedDocuments(ctx context.Context, dir string, store *knowledge.Store, processor *pipeline.Processor) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedDocuments: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		prefix := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if store.Has(pipeline.ChunkTitle(prefix, 1)) {
			log.Infof("seedDocuments: 已存在，跳过: %s", d.Name())
			return nil
		}
		n, err := processor.IngestFile(ctx, path, prefix)
		if err != nil {
			log.Warnf("seedDocuments: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("seedDocuments: 导入完成: %s, 分块数: %d", d.Name(), n)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		log.Warnf("seedDocuments: 遍历目录发生错误: %v", walkErr)
	}
}

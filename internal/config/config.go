// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 CTXBOT_TELEGRAM_TOKEN。
const EnvPrefix = "CTXBOT"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Log           LogConfig           `mapstructure:"log"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Bot           BotConfig           `mapstructure:"bot"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
// Driver 取值 mysql 或 sqlite。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。未启用时使用进程内锁与计数器。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// AdminConfig 管理接口的唯一账号，PasswordHash 为 bcrypt 哈希。
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// TelegramConfig 存储 Telegram Bot API 相关配置。
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Token          string        `mapstructure:"token"`
	APIBase        string        `mapstructure:"api_base"`
	PollTimeout    int           `mapstructure:"poll_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	EditInterval   time.Duration `mapstructure:"edit_interval"`
}

// BotConfig 控制上下文组装与回复行为。
// UserID 与 Username 在未启用 Telegram 时标识机器人；启用后以 getMe 的结果为准。
type BotConfig struct {
	UserID           int64   `mapstructure:"user_id"`
	Username         string  `mapstructure:"username"`
	HistoryWindow    int     `mapstructure:"history_window"`
	TopK             int     `mapstructure:"top_k"`
	MinSimilarity    float64 `mapstructure:"min_similarity"`
	KnowledgeFailure string  `mapstructure:"knowledge_failure"` // degrade | fail
	Placeholder      string  `mapstructure:"placeholder"`
	ApologyText      string  `mapstructure:"apology_text"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// KnowledgeConfig 知识库的持久化与索引方式。
type KnowledgeConfig struct {
	Backend        string `mapstructure:"backend"` // file | minio
	Path           string `mapstructure:"path"`
	ObjectName     string `mapstructure:"object_name"`
	Index          string `mapstructure:"index"` // linear | elasticsearch
	ReindexOnStart bool   `mapstructure:"reindex_on_start"`
	// SeedDir 中的文档在 serve 启动时入库，已入库的跳过。
	SeedDir string `mapstructure:"seed_dir"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 取值 content（{content} -> {embedding} 协议）、openai 或 gemini。
type EmbeddingConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Dimensions     int           `mapstructure:"dimensions"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"` // openai | gemini
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示（可选）。
type LLMPromptConfig struct {
	Rules string `mapstructure:"rules"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/ctxbot.db?_foreign_keys=on")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("telegram.request_timeout", 40*time.Second)
	v.SetDefault("telegram.edit_interval", time.Second)
	v.SetDefault("bot.user_id", 1)
	v.SetDefault("bot.username", "ctxbot")
	v.SetDefault("bot.history_window", 10)
	v.SetDefault("bot.top_k", 3)
	v.SetDefault("bot.min_similarity", 0.1)
	v.SetDefault("bot.knowledge_failure", "degrade")
	v.SetDefault("bot.placeholder", "I'm thinking...")
	v.SetDefault("bot.apology_text", "I'm sorry, I got confused. Please try again.")
	v.SetDefault("kafka.topic", "knowledge-ingest")
	v.SetDefault("kafka.group_id", "ctxbot-ingest-consumer")
	v.SetDefault("knowledge.backend", "file")
	v.SetDefault("knowledge.path", "data/knowledge.json")
	v.SetDefault("knowledge.object_name", "knowledge/knowledge.json")
	v.SetDefault("knowledge.index", "linear")
	v.SetDefault("elasticsearch.index_name", "ctxbot_knowledge")
	v.SetDefault("embedding.provider", "content")
	v.SetDefault("embedding.max_attempts", 3)
	v.SetDefault("embedding.initial_backoff", time.Second)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.prompt.rules", "You are a helpful assistant")
}

// Load 读取 .env、YAML 配置文件与 CTXBOT_ 前缀的环境变量，返回解析后的配置。
// configPath 为空或文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	// .env 缺失不算错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 没有默认值的键需要显式绑定，Unmarshal 才能读到环境变量
	for _, key := range []string{
		"telegram.token", "telegram.enabled", "jwt.secret", "admin.password_hash",
		"embedding.api_key", "embedding.base_url", "embedding.model", "embedding.dimensions",
		"llm.api_key", "llm.base_url", "llm.model",
		"database.redis.enabled", "database.redis.addr", "database.redis.password",
		"kafka.enabled", "kafka.brokers", "tika.server_url", "knowledge.seed_dir",
		"minio.endpoint", "minio.access_key_id", "minio.secret_access_key", "minio.bucket_name",
		"elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Init 初始化全局配置 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Scraper       ScraperConfig       `mapstructure:"scraper"`
	Document      DocumentConfig      `mapstructure:"document"`
	OCR           OCRConfig           `mapstructure:"ocr"`
	Normalizer    NormalizerConfig    `mapstructure:"normalizer"`
	VectorStore   VectorStoreConfig   `mapstructure:"vectorstore"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

// DatabaseConfig 存储数据库与 Redis 的连接配置。
// Driver 为 sqlite 时 DSN 是数据库文件路径。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver" validate:"oneof=mysql sqlite"`
	DSN    string      `mapstructure:"dsn" validate:"required"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时会话记忆和限流退回进程内实现。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储聊天令牌相关的配置。
type JWTConfig struct {
	Secret                string `mapstructure:"secret" validate:"required"`
	ChatTokenExpireMinute int    `mapstructure:"chat_token_expire_minutes" validate:"gt=0"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Enabled 为 false 时任务在进程内执行。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string `mapstructure:"topic" validate:"required_if=Enabled true"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。ServerURL 为空时 PDF 走 poppler 命令行。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses" validate:"required_if=Enabled true"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 为 hash 时使用本地特征哈希向量，无需外部服务。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider" validate:"oneof=openai hash"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url" validate:"required_if=Provider openai"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions" validate:"gt=0"`
	BatchSize  int    `mapstructure:"batch_size" validate:"gt=0"`
}

// LLMConfig 存储大语言模型相关的配置。BaseURL 为空时聊天只走规则回复。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64       `mapstructure:"temperature"`
	TopP        float64       `mapstructure:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StorageConfig 项目目录与下载目录的位置。
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

// CrawlerConfig 存储爬虫相关配置。
type CrawlerConfig struct {
	MaxDepth  int           `mapstructure:"max_depth" validate:"gte=0"`
	MaxLinks  int           `mapstructure:"max_links" validate:"gt=0"`
	Delay     time.Duration `mapstructure:"delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ScraperConfig 控制一次抓取里页面附属内容的处理量。
type ScraperConfig struct {
	MaxImagesPerPage    int           `mapstructure:"max_images_per_page"`
	MaxDocumentsPerPage int           `mapstructure:"max_documents_per_page"`
	DocumentConcurrency int           `mapstructure:"document_concurrency" validate:"gt=0"`
	ExcludedPaths       []string      `mapstructure:"excluded_paths"`
	DownloadTimeout     time.Duration `mapstructure:"download_timeout"`
}

// DocumentConfig 文档处理相关配置。
type DocumentConfig struct {
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb" validate:"gt=0"`
	PdfToTextPath string `mapstructure:"pdftotext_path"`
	PdfInfoPath   string `mapstructure:"pdfinfo_path"`
	PdfToPPMPath  string `mapstructure:"pdftoppm_path"`
}

// OCRConfig 控制扫描页与图片的识别。
type OCRConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TesseractPath string        `mapstructure:"tesseract_path"`
	Languages     string        `mapstructure:"languages"`
	DPI           int           `mapstructure:"dpi" validate:"gt=0"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// NormalizerConfig 文本归一化的开关。
type NormalizerConfig struct {
	Stem            bool `mapstructure:"stem"`
	RemoveStopWords bool `mapstructure:"remove_stopwords"`
}

// VectorStoreConfig 向量索引相关配置。
type VectorStoreConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size" validate:"gt=0"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	TopK                int     `mapstructure:"top_k" validate:"gt=0"`
}

// ChatConfig 聊天引擎相关配置。
type ChatConfig struct {
	ContextChunks    int           `mapstructure:"context_chunks" validate:"gt=0"`
	ContextCharLimit int           `mapstructure:"context_char_limit" validate:"gt=0"`
	HistoryTurns     int           `mapstructure:"history_turns" validate:"gte=0"`
	MaxSessionTurns  int           `mapstructure:"max_session_turns" validate:"gt=0"`
	MinAnswerLength  int           `mapstructure:"min_answer_length"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	EngineCacheTTL   time.Duration `mapstructure:"engine_cache_ttl"`
}

// JobsConfig 后台任务执行器配置。
type JobsConfig struct {
	Workers   int `mapstructure:"workers" validate:"gt=0"`
	QueueSize int `mapstructure:"queue_size" validate:"gt=0"`
}

// RateLimitConfig 每个客户端 IP 在窗口内允许的请求数。
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window"`
	Create  int           `mapstructure:"create"`
	Scrape  int           `mapstructure:"scrape"`
	Train   int           `mapstructure:"train"`
	Chat    int           `mapstructure:"chat"`
}

// MaxFileSize 返回以字节计的文档大小上限。
func (c DocumentConfig) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/sitebot.db")
	v.SetDefault("jwt.secret", "sitebot-dev-secret")
	v.SetDefault("jwt.chat_token_expire_minutes", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("kafka.topic", "sitebot-project-tasks")
	v.SetDefault("kafka.group_id", "sitebot-workers")
	v.SetDefault("elasticsearch.index_name", "sitebot_scraped_items")
	v.SetDefault("minio.bucket_name", "sitebot")
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "feature-hash-384")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.top_p", 0.9)
	v.SetDefault("llm.generation.max_tokens", 150)
	v.SetDefault("llm.generation.timeout", 60*time.Second)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_links", 50)
	v.SetDefault("crawler.delay", 100*time.Millisecond)
	v.SetDefault("crawler.timeout", 10*time.Second)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; SiteBot/1.0)")
	v.SetDefault("scraper.max_images_per_page", 5)
	v.SetDefault("scraper.max_documents_per_page", 3)
	v.SetDefault("scraper.document_concurrency", 2)
	v.SetDefault("scraper.excluded_paths", []string{"/admin", "/login", "/logout", "/register", "/api/"})
	v.SetDefault("scraper.download_timeout", 30*time.Second)
	v.SetDefault("document.max_file_size_mb", 50)
	v.SetDefault("document.pdftotext_path", "pdftotext")
	v.SetDefault("document.pdfinfo_path", "pdfinfo")
	v.SetDefault("document.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.languages", "rus+eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.timeout", 2*time.Minute)
	v.SetDefault("normalizer.stem", true)
	v.SetDefault("normalizer.remove_stopwords", false)
	v.SetDefault("vectorstore.chunk_size", 500)
	v.SetDefault("vectorstore.similarity_threshold", 0.3)
	v.SetDefault("vectorstore.top_k", 5)
	v.SetDefault("chat.context_chunks", 3)
	v.SetDefault("chat.context_char_limit", 200)
	v.SetDefault("chat.history_turns", 2)
	v.SetDefault("chat.max_session_turns", 10)
	v.SetDefault("chat.min_answer_length", 10)
	v.SetDefault("chat.session_ttl", 7*24*time.Hour)
	v.SetDefault("chat.engine_cache_ttl", time.Hour)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 32)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.create", 5)
	v.SetDefault("ratelimit.scrape", 2)
	v.SetDefault("ratelimit.train", 2)
	v.SetDefault("ratelimit.chat", 30)
}

// Load 读取 .env、YAML 配置文件与 SITEBOT_ 前缀的环境变量，返回校验过的配置。
// configPath 为空或文件不存在时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SITEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// Init 加载配置到全局变量 Conf，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

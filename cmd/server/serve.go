package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sitebot-go/internal/chat"
	"sitebot-go/internal/config"
	"sitebot-go/internal/handler"
	"sitebot-go/internal/repository"
	"sitebot-go/internal/service"
	"sitebot-go/internal/textnorm"
	"sitebot-go/internal/vectorstore"
	"sitebot-go/pkg/database"
	"sitebot-go/pkg/embedding"
	"sitebot-go/pkg/es"
	"sitebot-go/pkg/kafka"
	"sitebot-go/pkg/llm"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/ratelimit"
	"sitebot-go/pkg/storage"
	"sitebot-go/pkg/tasks"
	"sitebot-go/pkg/token"
)

func runServe(configPath string) error {
	// 1. 初始化配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.Conf = cfg

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitDB(cfg.Database.Driver, cfg.Database.DSN)
	if err := database.AutoMigrate(database.DB); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	workDir := filepath.Join(cfg.Storage.DataDir, "downloads")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("创建下载目录失败: %w", err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 4. 可选的外部服务
	var archive storage.ObjectStore
	if cfg.MinIO.Enabled {
		archive, err = storage.NewMinIO(rootCtx, cfg.MinIO)
		if err != nil {
			return fmt.Errorf("MinIO 初始化失败: %w", err)
		}
	}
	var itemIndex service.ItemIndex
	if cfg.Elasticsearch.Enabled {
		esClient, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return fmt.Errorf("es 初始化失败: %w", err)
		}
		itemIndex = esClient
	}

	// 5. 初始化 Repository
	var history repository.HistoryRepository
	var limiter ratelimit.Limiter
	if database.RDB != nil {
		history = repository.NewRedisHistoryRepository(database.RDB, cfg.Chat.SessionTTL)
		limiter = ratelimit.NewRedisLimiter(database.RDB)
	} else {
		history = repository.NewMemoryHistoryRepository(cfg.Chat.SessionTTL)
		limiter = ratelimit.NewMemoryLimiter()
	}
	if !cfg.RateLimit.Enabled {
		limiter = nil
	}

	// 6. 初始化 Service (依赖注入)。任务执行器与服务互相引用，handler 在闭包里取 svc。
	var svc service.ProjectService
	runner := tasks.NewRunner(cfg.Jobs.Workers, cfg.Jobs.QueueSize, func(ctx context.Context, task tasks.ProjectTask) error {
		return svc.HandleTask(ctx, task)
	})

	runner.OnCanceled(func(ctx context.Context, task tasks.ProjectTask) {
		svc.TaskCanceled(ctx, task)
	})

	var dispatcher tasks.Dispatcher = runner
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka)
		dispatcher = producer
	}

	llmClient := llm.NewClient(cfg.LLM)
	tokens := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.ChatTokenExpireMinute)
	chatOpts := chat.Options{
		TopK:             cfg.VectorStore.TopK,
		ContextChunks:    cfg.Chat.ContextChunks,
		ContextCharLimit: cfg.Chat.ContextCharLimit,
		HistoryTurns:     cfg.Chat.HistoryTurns,
		MaxSessionTurns:  cfg.Chat.MaxSessionTurns,
		MinAnswerLength:  cfg.Chat.MinAnswerLength,
		Timeout:          cfg.LLM.Generation.Timeout,
		Generation:       llm.DefaultGeneration(cfg.LLM.Generation),
	}

	svc = service.NewProjectService(service.Dependencies{
		Projects:   repository.NewProjectRepository(database.DB),
		Items:      repository.NewScrapedItemRepository(database.DB),
		Sessions:   repository.NewChatSessionRepository(database.DB),
		History:    history,
		Scraper:    newScraper(cfg, archive, workDir),
		Embedder:   embedding.NewClient(cfg.Embedding),
		LLM:        llmClient,
		Index:      itemIndex,
		Archive:    archive,
		Normalizer: textnorm.New(textnorm.Options{Stem: cfg.Normalizer.Stem, RemoveStopWords: cfg.Normalizer.RemoveStopWords}),
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Jobs:       runner,

		DataDir:        cfg.Storage.DataDir,
		ChunkSize:      cfg.VectorStore.ChunkSize,
		StoreOptions:   vectorstore.Options{Threshold: cfg.VectorStore.SimilarityThreshold},
		ChatOptions:    chatOpts,
		EngineCacheTTL: cfg.Chat.EngineCacheTTL,
		CrawlConfig: map[string]interface{}{
			"max_depth": cfg.Crawler.MaxDepth,
			"max_links": cfg.Crawler.MaxLinks,
		},
	})
	if llmClient == nil {
		log.Warnf("[Server] 未配置 LLM，聊天只使用规则回复")
	}
	// 上次退出时未完成的任务不会再执行，先把这些项目置为失败
	if err := svc.RecoverInterrupted(rootCtx); err != nil {
		return err
	}
	if cfg.Kafka.Enabled {
		go kafka.StartConsumer(rootCtx, cfg.Kafka, runner, database.RDB)
	}

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterOptions{
		Projects: svc,
		Tokens:   tokens,
		Limiter:  limiter,
		Limits: handler.RateLimits{
			Window: cfg.RateLimit.Window,
			Create: cfg.RateLimit.Create,
			Scrape: cfg.RateLimit.Scrape,
			Train:  cfg.RateLimit.Train,
			Chat:   cfg.RateLimit.Chat,
		},
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	// 先停消费者，再等执行器里的任务结束
	cancelRoot()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("[Kafka] 关闭生产者失败: %v", err)
		}
	}
	if err := runner.Shutdown(ctx); err != nil {
		log.Warnf("[TaskRunner] 任务未在超时内结束，已取消: %v", err)
	}
	log.Info("服务已优雅关闭")
	return nil
}

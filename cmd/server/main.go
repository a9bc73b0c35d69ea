// Package main 是应用程序的入口点。
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

	"vera-go/internal/config"
	"vera-go/internal/handler"
	"vera-go/internal/model"
	"vera-go/internal/pipeline"
	"vera-go/internal/repository"
	"vera-go/internal/service"
	"vera-go/pkg/database"
	"vera-go/pkg/embedding"
	"vera-go/pkg/kafka"
	"vera-go/pkg/llm"
	"vera-go/pkg/log"
	"vera-go/pkg/storage"
	"vera-go/pkg/tika"
	"vera-go/pkg/vectorstore"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	if err := log.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	if err := cfg.Validate(); err != nil {
		log.Fatal("配置校验失败", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化外部协作方
	store, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		log.Fatal("向量库初始化失败", err)
	}
	embedder := embedding.NewGateway(embedding.NewClient(cfg.Embedding), cfg.Embedding.Model)
	llmClient := llm.NewClient(cfg.LLM)
	tikaClient := tika.NewClient(cfg.Tika, time.Duration(cfg.Ingest.URLTimeoutSeconds)*time.Second)
	ledger := repository.NewMetadataRepository(cfg.Ledger.Path)

	// 4. 初始化入库管道
	processor := pipeline.NewProcessor(tikaClient, embedder, store, ledger, pipeline.OptionsFromConfig(cfg))

	// 5. 可选：异步入库（MinIO + MySQL + Redis + Kafka）
	var asyncDeps service.AsyncDeps
	if cfg.Ingest.AsyncEnabled {
		producer := startAsyncIngestion(ctx, cfg, processor, &asyncDeps)
		defer producer.Close()
	}

	// 6. 初始化 Service
	ingestService := service.NewIngestService(processor, cfg.Ingest.StagingDir, asyncDeps)
	chatService := service.NewChatService(embedder, store, llmClient, service.ChatOptionsFromConfig(cfg))
	documentService := service.NewDocumentService(ledger)
	collectionService := service.NewCollectionService(store)

	// 7. 导入 seed 目录：仅在集合为空时执行
	go initSeedFiles(ctx, cfg.Ingest.SeedDir, cfg.Ingest.DefaultDomain, processor, store)

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Services{
		Ingest:        ingestService,
		Chat:          chatService,
		Documents:     documentService,
		Collections:   collectionService,
		DefaultDomain: cfg.Ingest.DefaultDomain,
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

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 停止 Kafka 消费者与 seed 导入
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// startAsyncIngestion 连接异步入库依赖并在后台启动 Kafka 消费者，返回需要在退出时关闭的生产者。
func startAsyncIngestion(ctx context.Context, cfg config.Config, processor *pipeline.Processor, deps *service.AsyncDeps) *kafka.Producer {
	if err := database.InitMySQL(cfg.Database.MySQL, &model.IngestJob{}); err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	if err := database.InitRedis(cfg.Database.Redis); err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	objects, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	jobs := repository.NewIngestJobRepository(database.DB)

	taskProcessor := pipeline.NewTaskProcessor(processor, objects, jobs, cfg.Ingest.StagingDir)
	go kafka.StartConsumer(ctx, cfg.Kafka, taskProcessor, repository.NewAttemptRepository(database.RDB))

	*deps = service.AsyncDeps{Objects: objects, Producer: producer, Jobs: jobs}
	log.Info("异步入库已启用")
	return producer
}

// initSeedFiles 在集合为空时把目录下的文件依次入库，集合已有数据则跳过。
func initSeedFiles(ctx context.Context, dir, domain string, processor *pipeline.Processor, store vectorstore.Store) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	count, err := store.Count(ctx, processor.Collection(), true)
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		log.Warnf("initSeedFiles: 读取集合点数失败，跳过初始化导入: %v", err)
		return
	}
	if count > 0 {
		log.Infof("initSeedFiles: 集合 '%s' 已有 %d 个点，跳过初始化导入", processor.Collection(), count)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary, err := processor.Ingest(ctx, pipeline.Source{FilePath: path, FileName: info.Name(), Domain: domain})
		if err != nil {
			log.Warnf("initSeedFiles: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedFiles: 导入完成: %s, 分块: %d", info.Name(), summary.TotalChunks)
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}

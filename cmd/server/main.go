// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"repo-chat-go/internal/chain"
	"repo-chat-go/internal/config"
	"repo-chat-go/internal/handler"
	"repo-chat-go/internal/harvester"
	"repo-chat-go/internal/middleware"
	"repo-chat-go/internal/pipeline"
	"repo-chat-go/internal/repository"
	"repo-chat-go/internal/service"
	"repo-chat-go/pkg/database"
	"repo-chat-go/pkg/embedding"
	"repo-chat-go/pkg/es"
	"repo-chat-go/pkg/githubclient"
	"repo-chat-go/pkg/kafka"
	"repo-chat-go/pkg/llm"
	"repo-chat-go/pkg/log"
	"repo-chat-go/pkg/storage"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、对象存储与消息队列
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	harvestRecordRepo := repository.NewHarvestRecordRepository(database.DB)
	repoChunkRepo := repository.NewRepoChunkRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化客户端与 Service (依赖注入)
	githubClient, err := githubclient.NewClient(cfg.GitHub)
	if err != nil {
		log.Fatalf("GitHub 客户端初始化失败: %v", err)
	}
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	repoHarvester := harvester.New(githubClient)
	harvestService := service.NewHarvestService(repoHarvester, harvestRecordRepo, cfg.Ingest, cfg.MinIO)
	searchService := service.NewSearchService(embeddingClient, es.ESClient, cfg.Elasticsearch)
	qaChain := chain.New(llmClient, searchService, cfg.Ingest.TopK)
	chatService := service.NewChatService(qaChain, conversationRepo)

	// 6. 初始化摄取管道 (Processor)
	processor := pipeline.NewProcessor(
		embeddingClient,
		cfg.Elasticsearch,
		cfg.Embedding,
		cfg.Ingest,
		repoChunkRepo,
	)
	ingestService := service.NewIngestService(processor, harvestRecordRepo, cfg.Ingest)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	harvestHandler := handler.NewHarvestHandler(harvestService)
	chatHandler := handler.NewChatHandler(chatService)
	searchHandler := handler.NewSearchHandler(searchService)

	apiV1 := r.Group("/api/v1")
	{
		repos := apiV1.Group("/repos")
		{
			repos.POST("", harvestHandler.HarvestRepo)
			repos.GET("", harvestHandler.ListRecords)
		}

		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.POST("", chatHandler.Chat)
			chatGroup.GET("/ws", chatHandler.HandleWS)
		}

		apiV1.GET("/search", searchHandler.VectorSearch)
	}
	r.POST("/ingest", handler.NewIngestHandler(ingestService).RunIngest)
	r.GET("/download", handler.NewDownloadHandler().Download)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费循环随进程退出结束，无需单独关闭。
	log.Info("服务已优雅关闭")
}

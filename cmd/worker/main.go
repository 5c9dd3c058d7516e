package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/database"
	"github.com/qs3c/artgen_go_server/internal/pkg/oss"
	"github.com/qs3c/artgen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/artgen_go_server/internal/pkg/queue"
	"github.com/qs3c/artgen_go_server/internal/pkg/userlock"
	"github.com/qs3c/artgen_go_server/internal/repository"
	"github.com/qs3c/artgen_go_server/internal/service"
	"github.com/qs3c/artgen_go_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS（可选，未配置时结果存本地）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化 Queue 和 Pub/Sub
	taskQueue := queue.NewQueue(rdb, cfg.Queue.GenerationQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository 和 Service
	creditRepo := repository.NewCreditRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	genRepo := repository.NewGenerationRepository(db)
	creditService := service.NewCreditService(creditRepo, userlock.New(), cfg)
	generationService := service.NewGenerationService(genRepo, subRepo, creditService, taskQueue, cfg)

	// 生成后端
	generator := worker.NewHTTPGenerator(cfg.Generation)

	// 创建任务处理器
	processor := worker.NewProcessor(generationService, generator, ossClient, publisher, cfg)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	maxWorkers := cfg.Queue.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	log.Printf("Worker started, max workers: %d", maxWorkers)

	done := make(chan struct{}, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go func() {
			processor.Run(ctx, taskQueue)
			done <- struct{}{}
		}()
	}

	for i := 0; i < maxWorkers; i++ {
		<-done
	}
	log.Println("Worker shutdown complete")
}

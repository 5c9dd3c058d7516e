package main

import (
	"context"
	"fmt"
	"log"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/api"
	"github.com/qs3c/artgen_go_server/internal/api/handler"
	"github.com/qs3c/artgen_go_server/internal/database"
	"github.com/qs3c/artgen_go_server/internal/pkg/cron"
	"github.com/qs3c/artgen_go_server/internal/pkg/email"
	"github.com/qs3c/artgen_go_server/internal/pkg/oss"
	"github.com/qs3c/artgen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/artgen_go_server/internal/pkg/queue"
	"github.com/qs3c/artgen_go_server/internal/pkg/userlock"
	"github.com/qs3c/artgen_go_server/internal/pkg/ws"
	"github.com/qs3c/artgen_go_server/internal/repository"
	"github.com/qs3c/artgen_go_server/internal/service"
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

	// 初始化 OSS（可选）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化任务队列
	taskQueue := queue.NewQueue(rdb, cfg.Queue.GenerationQueue)

	// 初始化 WebSocket Hub（任务进度推送）
	wsHub := ws.NewHub()

	// 初始化邮件服务（可选）
	var emailService *email.Service
	if cfg.Email.SMTPHost != "" {
		emailService = email.NewService(&cfg.Email)
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	genRepo := repository.NewGenerationRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	// 初始化 Service
	creditService := service.NewCreditService(creditRepo, userlock.New(), cfg)
	freezeService := service.NewFreezeService(creditRepo, subRepo)
	subscriptionService := service.NewSubscriptionService(subRepo, creditRepo, creditService, freezeService, cfg)
	authService := service.NewAuthService(userRepo, creditService, subscriptionService, emailService, cfg)
	userService := service.NewUserService(userRepo, authService, ossClient)
	generationService := service.NewGenerationService(genRepo, subRepo, creditService, taskQueue, cfg)

	// 订阅任务进度，推送给在线用户
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			wsHub.SendToUser(msg.UserID, &ws.Message{Type: msg.Type, Data: msg})
		})
		if err != nil {
			log.Printf("Progress subscriber stopped: %v", err)
		}
	}()

	// 启动定时任务（月度积分激活、pending 订阅激活、过期兜底）
	cronService := cron.NewService(subscriptionService)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	creditHandler := handler.NewCreditHandler(creditService)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService, cfg)
	generationHandler := handler.NewGenerationHandler(generationService, creditService)
	webhookHandler := handler.NewWebhookHandler(subscriptionService, creditService, orderRepo, userRepo, emailService, cfg)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins)

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		userHandler,
		creditHandler,
		subscriptionHandler,
		generationHandler,
		webhookHandler,
		websocketHandler,
		creditService,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

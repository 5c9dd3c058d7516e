package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/api/handler"
	"github.com/qs3c/artgen_go_server/internal/api/middleware"
	"github.com/qs3c/artgen_go_server/internal/service"
)

type Router struct {
	authHandler         *handler.AuthHandler
	userHandler         *handler.UserHandler
	creditHandler       *handler.CreditHandler
	subscriptionHandler *handler.SubscriptionHandler
	generationHandler   *handler.GenerationHandler
	webhookHandler      *handler.WebhookHandler
	websocketHandler    *handler.WebSocketHandler
	creditService       *service.CreditService
	cfg                 *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	creditHandler *handler.CreditHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	generationHandler *handler.GenerationHandler,
	webhookHandler *handler.WebhookHandler,
	websocketHandler *handler.WebSocketHandler,
	creditService *service.CreditService,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:         authHandler,
		userHandler:         userHandler,
		creditHandler:       creditHandler,
		subscriptionHandler: subscriptionHandler,
		generationHandler:   generationHandler,
		webhookHandler:      webhookHandler,
		websocketHandler:    websocketHandler,
		creditService:       creditService,
		cfg:                 cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket（任务进度推送）
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/verify-email", r.authHandler.VerifyEmail)
			auth.GET("/github", r.authHandler.GithubAuth)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 公开接口 - 定价页
		api.GET("/plans", r.subscriptionHandler.ListPlans)

		// 支付网关回调（签名校验在 handler 内完成）
		api.POST("/webhooks/creem", r.webhookHandler.HandleCreem)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 用户
			user := authenticated.Group("/user")
			{
				user.GET("/profile", r.userHandler.GetProfile)
				user.PUT("/profile", r.userHandler.UpdateProfile)
				user.POST("/avatar", r.userHandler.UploadAvatar)
			}

			// 积分
			credits := authenticated.Group("/credits")
			{
				credits.GET("/balance", r.creditHandler.GetBalance)
				credits.GET("/transactions", r.creditHandler.ListTransactions)
				credits.GET("/expiring", r.creditHandler.GetExpiring)
			}

			// 订阅
			subscription := authenticated.Group("/subscription")
			{
				subscription.GET("", r.subscriptionHandler.GetCurrent)
				subscription.GET("/history", r.subscriptionHandler.GetHistory)
				subscription.POST("/cancel", r.subscriptionHandler.Cancel)
			}

			// 生成任务
			generations := authenticated.Group("/generations")
			{
				generations.GET("/concurrency", r.generationHandler.GetConcurrency)
				generations.POST("", middleware.CreditsCheck(r.creditService), r.generationHandler.Create)
				generations.GET("", r.generationHandler.List)
				generations.GET("/:id", r.generationHandler.Get)
			}
		}
	}

	return engine
}

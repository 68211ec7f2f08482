package router

import (
	"log"
	"time"

	"abonix/config"
	"abonix/internal/domain"
	"abonix/internal/handler"
	"abonix/internal/middleware"
	"abonix/internal/repository"
	"abonix/internal/service"
	"abonix/pkg/payment"

	"github.com/gin-gonic/gin"
	radix "github.com/mediocregopher/radix/v3"
	"gorm.io/gorm"
)

func Setup(cfg *config.Config, db *gorm.DB) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	stockRepo := repository.NewStockRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Services
	authSvc := service.NewAuthService(cfg, userRepo)
	emailSvc := service.NewEmailService(&cfg.SMTP)
	if cfg.SMTP.Host == "" {
		log.Printf("[Email] SMTP not configured, transactional mail disabled")
	}
	deliverySvc := service.NewDeliveryService(stockRepo)
	reconciler := service.NewReconciler(db, userRepo, stockRepo, auditRepo, deliverySvc, emailSvc)

	// Payment providers, keyed by the method tag customers select at checkout
	providers := map[string]payment.Provider{
		domain.PaymentMethodCryptomus: payment.NewCryptomusProvider(cfg.Cryptomus.BaseURL, cfg.Cryptomus.MerchantID, cfg.Cryptomus.PaymentKey),
		domain.PaymentMethodWeepay:    payment.NewWeepayProvider(cfg.Weepay.BaseURL, cfg.Weepay.BayiID, cfg.Weepay.SecretKey),
		domain.PaymentMethodIyzico:    payment.NewIyzicoProvider(cfg.Iyzico.BaseURL, cfg.Iyzico.APIKey, cfg.Iyzico.SecretKey),
	}

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	planHandler := handler.NewPlanHandler(planRepo)
	checkoutHandler := handler.NewCheckoutHandler(cfg, planRepo, orderRepo, paymentRepo, providers)
	orderHandler := handler.NewOrderHandler(orderRepo, paymentRepo)
	webhookHandler := handler.NewWebhookHandler(reconciler, cfg.Webhook.HandlerTimeout)
	adminHandler := handler.NewAdminHandler(orderRepo, paymentRepo, stockRepo, auditRepo, deliverySvc)

	authMw := middleware.AuthRequired(&cfg.JWT)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		api.GET("/plans", planHandler.List)
		api.POST("/checkout", authMw, checkoutHandler.Checkout)
		api.GET("/orders", authMw, orderHandler.ListMine)
		api.GET("/orders/:id", authMw, orderHandler.Get)

		// Provider callbacks get their own limiter so a flood on one
		// endpoint cannot starve customer traffic. Backed by Redis when
		// configured, so the limit holds across instances.
		webhooks := api.Group("/webhooks")
		webhooks.Use(middleware.RateLimit(newWebhookLimiter(cfg)))
		{
			webhooks.POST("/cryptomus", webhookHandler.Handle(providers[domain.PaymentMethodCryptomus]))
			webhooks.POST("/weepay", webhookHandler.Handle(providers[domain.PaymentMethodWeepay]))
			webhooks.POST("/iyzico", webhookHandler.Handle(providers[domain.PaymentMethodIyzico]))
		}

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.GET("/orders", adminHandler.ListOrders)
			admin.POST("/orders/:id/redeliver", adminHandler.Redeliver)
			admin.POST("/stock", adminHandler.AddStock)
			admin.GET("/stock/:planId/available", adminHandler.StockAvailability)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	return r
}

func newWebhookLimiter(cfg *config.Config) middleware.RateLimiter {
	if cfg.Redis.Addr != "" {
		pool, err := radix.NewPool("tcp", cfg.Redis.Addr, cfg.Redis.PoolSize)
		if err != nil {
			log.Printf("[RateLimit] redis pool at %s failed (%v), falling back to in-memory", cfg.Redis.Addr, err)
		} else {
			log.Printf("[RateLimit] webhook limiter backed by redis at %s", cfg.Redis.Addr)
			return middleware.NewRedisRateLimiter(pool, "webhook_rl", cfg.Webhook.RateLimit, cfg.Webhook.RateLimitWindow)
		}
	}
	return middleware.NewInMemoryRateLimiter(cfg.Webhook.RateLimit, cfg.Webhook.RateLimitWindow)
}

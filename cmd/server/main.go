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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dealroom-payments/internal/config"
	"dealroom-payments/internal/currency"
	"dealroom-payments/internal/gateway"
	"dealroom-payments/internal/handler"
	"dealroom-payments/internal/models"
	"dealroom-payments/internal/repository"
	"dealroom-payments/internal/service"
	"dealroom-payments/pkg/database"
	"dealroom-payments/pkg/logger"
	"dealroom-payments/pkg/middleware"
	"dealroom-payments/pkg/redis"
)

func main() {
	// Initialize logger
	log := logger.NewLogger("dealroom-payments")
	defer log.Sync()

	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.ApplySchema(models.TransactionSchema, models.PaymentLogSchema, models.SubscriptionSchema); err != nil {
		log.Fatal("failed to apply database schema", zap.Error(err))
	}

	// Initialize Redis
	redisClient := redis.NewRedisClient(cfg.RedisURL)

	// Initialize repositories
	transactionRepo := repository.NewTransactionRepository(db.DB)
	logRepo := repository.NewLogRepository(db.DB)
	subscriptionRepo := repository.NewSubscriptionRepository(db.DB)

	// Register payment providers
	gateways := gateway.NewRegistry()
	gateways.Register(gateway.NewTelrGateway(gateway.TelrConfig{
		StoreID:       cfg.Telr.StoreID,
		AuthKey:       cfg.Telr.AuthKey,
		WebhookSecret: cfg.Telr.WebhookSecret,
		BaseURL:       cfg.Telr.BaseURL,
		TestMode:      cfg.TestMode,
	}, log))
	gateways.Register(gateway.NewPayTabsGateway(gateway.PayTabsConfig{
		ProfileID:     cfg.PayTabs.ProfileID,
		ServerKey:     cfg.PayTabs.ServerKey,
		WebhookSecret: cfg.PayTabs.WebhookSecret,
		BaseURL:       cfg.PayTabs.BaseURL,
	}, log))

	// Initialize services
	converter := currency.NewConverter("USD", cfg.SettlementCurrency, cfg.FXFallbackRate, redisClient, log)
	notifier := service.NewEmailNotifier(cfg.SMTP, log)
	paymentService := service.NewPaymentService(
		transactionRepo,
		logRepo,
		subscriptionRepo,
		redisClient,
		gateways,
		converter,
		notifier,
		log,
		service.Options{
			PublicBaseURL:      cfg.PublicBaseURL,
			DefaultProvider:    cfg.DefaultProvider,
			SettlementCurrency: cfg.SettlementCurrency,
		},
	)

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(paymentService, log)

	// Setup router
	router := setupRouter(paymentHandler, redisClient, log)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

func setupRouter(paymentHandler *handler.PaymentHandler, redisClient *redis.Client, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	// Health checks
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("",
				middleware.RateLimiter(redisClient, log, "create", 10, time.Minute),
				paymentHandler.CreatePayment)
			payments.GET("/:orderReference/status",
				middleware.RateLimiter(redisClient, log, "status", 30, time.Minute),
				paymentHandler.GetPaymentStatus)
			payments.GET("/:orderReference/logs", paymentHandler.GetPaymentLogs)
			payments.POST("/return/:provider",
				middleware.RateLimiter(redisClient, log, "return", 60, time.Minute),
				paymentHandler.ProviderReturn)
		}

		// Server-to-server notifications; authenticity is signature-based
		v1.POST("/webhooks/:provider",
			middleware.RateLimiter(redisClient, log, "webhook", 120, time.Minute),
			paymentHandler.ProviderWebhook)
	}

	return router
}

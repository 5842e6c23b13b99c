package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"payx-ledger/internal/adapter/http/middleware"
	"payx-ledger/internal/core/ports"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	BusinessSvc    ports.BusinessService
	AccountSvc     ports.AccountService
	TransactionSvc ports.TransactionService
	WebhookSvc     ports.WebhookService
	APIKeyRepo     ports.APIKeyRepository
	RateLimitRepo  ports.RateLimitRepository
	HashSvc        ports.HashService
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	v1 := r.Group("/v1")

	// --- Public routes ---
	v1.GET("/health", Liveness())
	v1.GET("/ready", Readiness(deps.HealthCheckers...))

	businessHandler := NewBusinessHandler(deps.BusinessSvc)
	v1.POST("/businesses", businessHandler.Create)

	// --- Authenticated routes ---
	auth := middleware.BearerAuth(deps.APIKeyRepo, deps.HashSvc, deps.Logger)
	rateGate := middleware.RateLimiter(deps.RateLimitRepo, deps.Logger)

	authed := v1.Group("", auth, rateGate)

	businesses := authed.Group("/businesses")
	{
		businesses.GET("/:id", businessHandler.Get)
		businesses.PUT("/:id", businessHandler.Update)
	}

	accountHandler := NewAccountHandler(deps.AccountSvc)
	accounts := authed.Group("/accounts")
	{
		accounts.POST("", accountHandler.Create)
		accounts.GET("", accountHandler.List)
		accounts.GET("/:id", accountHandler.Get)
		accounts.GET("/:id/transactions", accountHandler.ListTransactions)
	}

	transactionHandler := NewTransactionHandler(deps.TransactionSvc)
	transactions := authed.Group("/transactions")
	{
		transactions.POST("", transactionHandler.Create)
		transactions.GET("", transactionHandler.List)
		transactions.GET("/:id", transactionHandler.Get)
	}

	webhookHandler := NewWebhookHandler(deps.BusinessSvc, deps.WebhookSvc)
	webhooks := authed.Group("/webhooks")
	{
		webhooks.POST("/endpoints", webhookHandler.CreateEndpoint)
		webhooks.PUT("/endpoints", webhookHandler.UpdateEndpoint)
		webhooks.DELETE("/endpoints", webhookHandler.DeleteEndpoint)
		webhooks.GET("/deliveries", webhookHandler.ListDeliveries)
		webhooks.GET("/deliveries/:id", webhookHandler.GetDelivery)
		webhooks.POST("/deliveries/:id/retry", webhookHandler.RetryDelivery)
	}

	return r
}

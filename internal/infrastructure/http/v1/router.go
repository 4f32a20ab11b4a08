// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"stockcore/internal/domain/counting"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
	"stockcore/internal/domain/transfer"
	"stockcore/internal/idempotency"
	"stockcore/internal/infrastructure/http/v1/handlers"
	"stockcore/internal/infrastructure/http/v1/middleware"
	"stockcore/internal/infrastructure/storage/postgres"
	"stockcore/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Pool     *postgres.Pool
	Logger   *logger.Logger
	Executor *idempotency.Executor

	Stocks    *stock.Service
	Ledgers   *ledger.Service
	Counts    *counting.Service
	Transfers *transfer.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no caller identity required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	stockHandler := handlers.NewStockHandler(cfg.Stocks, cfg.Ledgers, cfg.Executor)
	transferHandler := handlers.NewTransferHandler(cfg.Transfers, cfg.Executor)
	countHandler := handlers.NewCountHandler(cfg.Counts, cfg.Executor)

	api := router.Group("/api/v1")
	api.Use(middleware.CallerIdentity())
	{
		st := api.Group("/stock")
		{
			st.POST("", stockHandler.Register)
			st.POST("/bulk-adjust", stockHandler.BulkAdjust)
			st.POST("/reconcile", stockHandler.ReconcileAll)
			st.GET("/:productId", stockHandler.GetBalance)
			st.DELETE("/:productId", stockHandler.Deactivate)
			st.POST("/:productId/movements", stockHandler.ApplyMovement)
			st.GET("/:productId/ledger", stockHandler.History)
			st.POST("/:productId/reconcile", stockHandler.Reconcile)
		}

		tr := api.Group("/transfers")
		{
			tr.POST("", transferHandler.Request)
			tr.GET("", transferHandler.List)
			tr.GET("/:id", transferHandler.Get)
			tr.POST("/:id/ship", transferHandler.Ship)
			tr.POST("/:id/receive", transferHandler.Receive)
			tr.POST("/:id/cancel", transferHandler.Cancel)
		}

		cn := api.Group("/counts")
		{
			cn.POST("", countHandler.Create)
			cn.GET("/:id", countHandler.Get)
			cn.POST("/:id/start", countHandler.Start)
			cn.POST("/:id/preload", countHandler.Preload)
			cn.PUT("/:id/items/:itemId", countHandler.SetItemCount)
			cn.POST("/:id/apply", countHandler.ApplyAdjustments)
			cn.POST("/:id/complete", countHandler.Complete)
			cn.POST("/:id/cancel", countHandler.Cancel)
		}
	}

	return router
}

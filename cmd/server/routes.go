package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pharma-chain.backend/internal/interfaces/http/handlers"
	"pharma-chain.backend/internal/interfaces/http/middleware"
)

type routeDeps struct {
	batchHandler   *handlers.BatchHandler
	verifyHandler  *handlers.VerifyHandler
	authMiddleware gin.HandlerFunc
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	{
		// Batch routes (public read, authenticated write)
		batches := v1.Group("/batches")
		{
			batches.GET("", d.batchHandler.ListBatches)
			batches.GET("/:id", d.batchHandler.GetBatch)
			batches.GET("/:id/history", d.batchHandler.GetHistory)
			batches.GET("/:id/events", d.batchHandler.GetEvents)

			batches.POST("", d.authMiddleware, middleware.RequireRole("Manufacturer"), middleware.IdempotencyMiddleware(), d.batchHandler.CreateBatch)
			batches.POST("/:id/transfer", d.authMiddleware, middleware.RequireRole("Manufacturer", "Distributor", "Retailer", "Pharmacy"), middleware.IdempotencyMiddleware(), d.batchHandler.RecordTransfer)
			batches.PUT("/:id", d.authMiddleware, middleware.RequireRole("Manufacturer"), d.batchHandler.UpdateBatch)
		}

		v1.GET("/transfers", d.batchHandler.ListTransfers)

		qr := v1.Group("/qr")
		{
			qr.GET("/:id", d.batchHandler.GetQR)
			qr.POST("", d.authMiddleware, middleware.RequireRole("Manufacturer"), middleware.IdempotencyMiddleware(), d.batchHandler.StoreQR)
		}

		// Verification routes (public)
		verify := v1.Group("/verify")
		{
			verify.POST("", d.verifyHandler.Verify)
			verify.GET("/:id", d.verifyHandler.QuickVerify)
		}

		metadata := v1.Group("/metadata")
		{
			metadata.POST("/verify", d.verifyHandler.VerifyMetadata)
			metadata.GET("/:id", d.verifyHandler.GetMetadata)
		}
	}
}

func registerHealthRoute(r *gin.Engine, h *handlers.HealthHandler) {
	r.GET("/health", h.Health)
}

func registerMetricsRoute(r *gin.Engine, gatherer prometheus.Gatherer) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// applyCORSMiddleware allows the listed origins, or every origin when the
// list is empty.
func applyCORSMiddleware(r *gin.Engine, origins []string) {
	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AddAllowHeaders("Authorization", middleware.IdempotencyHeader, middleware.RequestIDHeader)
	corsConfig.AddExposeHeaders("Content-Length", middleware.RequestIDHeader, "X-Idempotency-Hit")
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour

	r.Use(cors.New(corsConfig))
}

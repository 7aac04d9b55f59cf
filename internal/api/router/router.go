// Package router sets up the API routes for the application.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/procrasturbate/procrasturbate/consts"
	"github.com/procrasturbate/procrasturbate/internal/api/handler"
	"github.com/procrasturbate/procrasturbate/internal/api/middleware"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/engine"
	"github.com/procrasturbate/procrasturbate/internal/scheduler"
	"github.com/procrasturbate/procrasturbate/internal/store"
)

// Setup configures all API routes
func Setup(r *gin.Engine, cfg *config.Config, d *engine.Dispatcher, s store.Store, sched *scheduler.Scheduler) {
	// Apply global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger(&middleware.LoggerConfig{
		AccessLog: cfg.Logging.AccessLog,
	}))
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorHandler(cfg.Server.Debug))

	// Apply OpenTelemetry tracing middleware
	r.Use(otelgin.Middleware(consts.ServiceName))

	// Health check endpoint (public)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": consts.Version,
			"uptime":  consts.GetUptime().String(),
		})
	})

	// API v1 routes
	v1 := r.Group("/api/v1")

	// Webhook routes (public - authenticated by HMAC signature instead)
	webhookHandler := handler.NewWebhookHandler(d, cfg.GithubApp.WebhookSecret)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/github", webhookHandler.HandleWebhook)
	}

	// Admin routes (read-only, bearer token protected)
	adminHandler := handler.NewAdminHandler(s, sched)
	admin := v1.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.Server.AdminToken))
	{
		admin.GET("/installations", adminHandler.ListInstallations)
		admin.GET("/installations/:id/repositories", adminHandler.ListRepositories)
		admin.GET("/installations/:id/usage", adminHandler.GetUsage)
		admin.GET("/reviews", adminHandler.ListReviews)
		admin.GET("/reviews/:id", adminHandler.GetReview)
		admin.GET("/stats", adminHandler.GetStats)
	}
}

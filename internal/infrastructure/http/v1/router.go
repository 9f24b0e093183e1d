// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"stockscan/internal/domain/auth"
	"stockscan/internal/domain/scan"
	"stockscan/internal/infrastructure/cache"
	"stockscan/internal/infrastructure/http/v1/handlers"
	"stockscan/internal/infrastructure/http/v1/middleware"
	"stockscan/internal/infrastructure/storage/postgres"
	"stockscan/pkg/logger"
)

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks)
	Pool *postgres.Pool

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// AuthService for authentication endpoints
	AuthService *auth.Service

	// Registry tracks live scan sessions
	Registry *scan.Registry

	// RecordCache backs barcode resolution for every session
	RecordCache *cache.RecordCache

	// AuditFactory builds the per-session scan audit sink (optional)
	AuditFactory handlers.AuditFactory
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

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.RecordCache)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		registerAuthRoutes(v1, cfg)

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))

		registerSessionRoutes(protected, cfg)
	}

	return router
}

// registerAuthRoutes registers authentication endpoints.
func registerAuthRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	if cfg.AuthService == nil {
		return
	}

	authHandler := handlers.NewAuthHandler(cfg.AuthService)

	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
	}

	// Operator registration is an admin action.
	adminAuth := rg.Group("/auth")
	adminAuth.Use(middleware.Auth(cfg.JWTValidator), middleware.RequireRole("admin"))
	{
		adminAuth.POST("/register", authHandler.Register)
	}
}

// registerSessionRoutes registers the scan session endpoints.
func registerSessionRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	sessionHandler := handlers.NewSessionHandler(cfg.Registry, cfg.RecordCache, cfg.AuditFactory)
	scanHandler := handlers.NewScanHandler(cfg.Registry)

	sessions := rg.Group("/sessions")
	{
		sessions.POST("", sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.DELETE("/:id", sessionHandler.Delete)

		sessions.POST("/:id/scan", scanHandler.Scan)

		sessions.GET("/:id/lines", sessionHandler.Lines)
		sessions.GET("/:id/lines/grouped", sessionHandler.GroupedLines)
		sessions.POST("/:id/lines/:lineId/select", sessionHandler.SelectLine)
		sessions.GET("/:id/dirty", sessionHandler.DirtyLines)
		sessions.POST("/:id/save", sessionHandler.ConfirmSave)
		sessions.GET("/:id/history", sessionHandler.History)
	}
}

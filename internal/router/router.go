// Package router sets up the application's routes and middleware.
package router

import (
	"toolbridge/internal/middleware"
	"toolbridge/internal/proxy"
	"toolbridge/internal/types"

	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the gin engine.
func NewRouter(
	configManager types.ConfigManager,
	proxyServer *proxy.ProxyServer,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(configManager.GetLogConfig()))
	router.Use(middleware.CORS(configManager.GetCORSConfig()))
	router.Use(middleware.RateLimiter(configManager.GetPerformanceConfig()))

	router.GET("/health", proxyServer.Health)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", proxyServer.ChatCompletions)
		v1.GET("/models", proxyServer.Models)
	}

	return router
}

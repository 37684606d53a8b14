package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/colabhub/relay/internal/config"
	"github.com/colabhub/relay/internal/database"
	"github.com/colabhub/relay/internal/middleware"
	"github.com/colabhub/relay/internal/websocket"
)

var wsPaths = []string{"/ws", "/api/v1/ws"}

func newRouter(cfg *config.Config, hub *websocket.Hub, db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware("/health", "/metrics"))
	r.Use(middleware.MetricsMiddleware())
	if cfg.Telemetry.Enabled {
		r.Use(middleware.TracingMiddleware(serviceName))
	}

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if cfg.AllowsAnyOrigin() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths(wsPaths)))

	wsHandler := websocket.NewHandler(hub, cfg.AllowedOrigins)

	r.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if db != nil {
			if err := database.Health(db); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{
			"status":       status,
			"service":      serviceName,
			"online_users": len(hub.GetOnlineUsers()),
			"timestamp":    time.Now().UTC(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, path := range wsPaths {
		r.GET(path, wsHandler.HandleWebSocket)
	}

	api := r.Group("/api/v1/relay")
	{
		api.GET("/stats", wsHandler.HandleStats)
		api.POST("/online", wsHandler.HandleOnlineStatus)
	}

	return r
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/colabhub/relay/internal/cache"
	"github.com/colabhub/relay/internal/config"
	"github.com/colabhub/relay/internal/database"
	"github.com/colabhub/relay/internal/identity"
	"github.com/colabhub/relay/internal/logger"
	"github.com/colabhub/relay/internal/presence"
	"github.com/colabhub/relay/internal/telemetry"
	"github.com/colabhub/relay/internal/websocket"
)

const serviceName = "relay"

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	logger.Log.Info("=== Relay starting ===",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
		zap.String("identity_mode", cfg.IdentityMode),
		zap.Strings("allowed_origins", cfg.AllowedOrigins))

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var db *gorm.DB
	if cfg.IdentityMode == config.IdentityStore {
		db, err = database.Open(cfg.DatabaseURL, cfg.Environment)
		if err != nil {
			return err
		}
		defer database.Close(db)
	}

	verifier, err := identity.New(cfg, db)
	if err != nil {
		return err
	}

	var mirror *cache.PresenceMirror
	if cfg.Redis.Enabled() {
		mirror, err = startPresenceMirror(ctx, cfg.Redis)
		if err != nil {
			// The mirror is informational; the relay runs without it
			logger.Log.Warn("Presence mirror disabled", zap.Error(err))
		}
	}

	hubConfig := websocket.HubConfig{
		SendBuffer:      cfg.SendBuffer,
		MaxFrameBytes:   cfg.MaxFrameBytes,
		MaxContentBytes: cfg.MaxContentBytes,
		IdentifyTimeout: cfg.IdentifyTimeout,
		RateLimit: websocket.RateLimitConfig{
			MaxMessagesPerSecond: cfg.RateLimitPerSecond,
			BurstSize:            cfg.RateLimitBurst,
		},
		Verifier: verifier,
	}
	if mirror != nil {
		hubConfig.Observer = mirror
	}

	hub := websocket.NewHub(presence.NewDirectory(), hubConfig)
	go hub.Run()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, hub, db),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Relay listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Log.Info("Shutting down relay...")
	case serveErr = <-errCh:
		logger.Log.Error("Server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Close WebSocket connections first; http.Server.Shutdown does not track hijacked connections
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("WebSocket shutdown warning", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("HTTP server forced to shutdown", zap.Error(err))
	}
	if mirror != nil {
		if err := mirror.Stop(shutdownCtx); err != nil {
			logger.Log.Warn("Presence mirror shutdown warning", zap.Error(err))
		}
	}
	if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
		logger.Log.Warn("Tracer shutdown warning", zap.Error(err))
	}

	logger.Log.Info("Relay exited", zap.Stringer("stats", hub.GetMetrics()))
	return serveErr
}

func startPresenceMirror(ctx context.Context, cfg config.RedisConfig) (*cache.PresenceMirror, error) {
	client, err := cache.NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	mirror := cache.NewPresenceMirror(client, 0)
	if err := mirror.Start(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reset presence hash: %w", err)
	}
	return mirror, nil
}

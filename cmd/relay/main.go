package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/services"
	httphandlers "github.com/javaarchive/togetherfin/internal/handlers/http"
	"github.com/javaarchive/togetherfin/internal/infrastructure/middleware"
	"github.com/javaarchive/togetherfin/internal/infrastructure/monitoring"
	"github.com/javaarchive/togetherfin/internal/infrastructure/realtime"
	"github.com/javaarchive/togetherfin/internal/infrastructure/relay"
	"github.com/javaarchive/togetherfin/internal/infrastructure/repositories/memory"
	"github.com/javaarchive/togetherfin/pkg/config"
	"github.com/javaarchive/togetherfin/pkg/crypto"
	"github.com/javaarchive/togetherfin/pkg/logger"
	"github.com/javaarchive/togetherfin/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/togetherfin/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// A broken crypto stack must fail at startup, not at first upload
	if err := crypto.SelfTest(); err != nil {
		log.Fatalw("crypto self test failed", "error", err)
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; session keys will not survive restarts safely")
	}

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Errorw("failed to initialize tracing", "error", err)
		} else {
			defer tp.Shutdown(context.Background())
			log.Info("Tracing enabled")
		}
	}

	// Initialize repositories and services
	roomRepo := memory.NewMemoryRoomRepository()
	hostCodes := services.NewHostCodeManager(cfg.Auth.HostCodes)
	roomService := services.NewRoomService(roomRepo, hostCodes, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, log)

	stores := relay.NewManager(cfg.Store.MaxSpecial, cfg.Store.MaxDefault)

	// Initialize realtime channel
	wsServer := realtime.NewWebSocketServer(roomService, log)
	wsServer.SetPingInterval(cfg.Realtime.PingInterval)
	wsServer.SetPongTimeout(cfg.Realtime.PongTimeout)

	// Initialize monitoring
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
	}

	// Initialize HTTP handlers
	var metrics httphandlers.StoreMetrics
	if collector != nil {
		metrics = collector
	}
	roomHandler := httphandlers.NewRoomHandler(roomService, stores, wsServer, metrics, log)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Global HTTP rate limiting (if enabled)
	router.Use(middleware.NewRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	roomHandler.SetupRoutes(router)

	// Realtime endpoint
	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Keep the open-rooms gauge current without instrumenting every handler
	if collector != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				rooms, err := roomRepo.List(context.Background())
				if err == nil {
					collector.SetRoomsOpen(len(rooms))
				}
				collector.SetRealtimeConnections(wsServer.ConnectionCount())
			}
		}()
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Togetherfin relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Togetherfin relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	log.Info("Togetherfin relay stopped")
}

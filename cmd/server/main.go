package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docmesh/docmesh/internal/api/websocket"
	"github.com/docmesh/docmesh/internal/config"
	"github.com/docmesh/docmesh/pkg/observability"
	"github.com/docmesh/docmesh/pkg/ot"
	"github.com/docmesh/docmesh/pkg/repository"
	"github.com/docmesh/docmesh/pkg/services"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	bootLogger := observability.NewStandardLogger("docmesh")

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger := newLogger(cfg.Logging)
	metrics := observability.NewPrometheusMetricsClient("docmesh")

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize document store", map[string]interface{}{
			"backend": cfg.Storage.Backend,
			"error":   err.Error(),
		})
	}

	svcConfig := services.ServiceConfig{Logger: logger, Metrics: metrics}
	bus := services.NewEventBus(logger)
	conflicts := services.NewConflictResolutionService(svcConfig)
	history := services.NewHistoryService(svcConfig)
	sessions := services.NewSessionService(svcConfig, store, ot.NewKernel(), conflicts, history, bus, cfg.Session)
	presence := services.NewPresenceService(svcConfig, cfg.Presence, bus)
	lifecycle := services.NewLifecycleService(svcConfig, sessions, bus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go lifecycle.Run(ctx, cfg.Lifecycle.SweepInterval)

	controller := websocket.NewController(sessions, presence, cfg.Session, logger, metrics)
	wsServer := websocket.NewServer(cfg.WebSocket, controller, logger, metrics)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", wsServer.HandleWS)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(sessions.SessionIDs()),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: router,
	}

	go func() {
		logger.Info("Server listening", map[string]interface{}{
			"address": cfg.Server.ListenAddress,
			"backend": cfg.Storage.Backend,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}
	_ = wsServer.Close()
	lifecycle.Close()
	presence.Close()
	sessions.Close()
	if err := store.Close(); err != nil {
		logger.Warn("Store close failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// buildStore picks the configured persistence backend. Remote backends
// are wrapped with retries and a circuit breaker.
func buildStore(cfg *config.Config, logger observability.Logger) (repository.DocumentStore, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return repository.NewMemoryStore(), nil
	case "redis":
		redisStore, err := repository.NewRedisStore(cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		resilientCfg := repository.DefaultResilientConfig()
		if cfg.Storage.FailureThreshold > 0 {
			resilientCfg.FailureThreshold = cfg.Storage.FailureThreshold
		}
		if cfg.Storage.RetryBudget > 0 {
			resilientCfg.MaxElapsedTime = cfg.Storage.RetryBudget
		}
		return repository.NewResilientStore(redisStore, resilientCfg, logger), nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newLogger(cfg config.LoggingConfig) observability.Logger {
	logger := observability.NewStandardLogger(cfg.Prefix)
	standard, ok := logger.(*observability.StandardLogger)
	if !ok {
		return logger
	}
	switch cfg.Level {
	case "debug":
		return standard.WithLevel(observability.LogLevelDebug)
	case "warn":
		return standard.WithLevel(observability.LogLevelWarn)
	case "error":
		return standard.WithLevel(observability.LogLevelError)
	default:
		return standard.WithLevel(observability.LogLevelInfo)
	}
}

// engramd is the agent memory service daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/audit"
	"github.com/engram-labs/engram/internal/auth"
	"github.com/engram-labs/engram/internal/config"
	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/memory"
	"github.com/engram-labs/engram/internal/ratelimit"
	"github.com/engram-labs/engram/internal/schema"
	"github.com/engram-labs/engram/internal/search"
	"github.com/engram-labs/engram/internal/server"
	"github.com/engram-labs/engram/internal/tasks"
	"github.com/engram-labs/engram/internal/tenant"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting engramd")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelStartup()

	graphClient, err := graph.NewClient(startupCtx, graph.ClientConfig{
		Addr:           cfg.Graph.Addr,
		Password:       cfg.Graph.Password,
		DB:             cfg.Graph.DB,
		MaxRetries:     cfg.Graph.MaxRetries,
		RetryInterval:  cfg.Graph.RetryInterval,
		RequestTimeout: cfg.Graph.RequestTimeout,
		QueryTimeout:   cfg.Graph.QueryTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to graph backend", zap.Error(err))
	}
	defer graphClient.Close()

	reg, err := schema.Default()
	if err != nil {
		logger.Fatal("Failed to load memory schema", zap.Error(err))
	}

	searchClient := search.NewClient(search.ClientConfig{
		BaseURL:        cfg.Search.BaseURL,
		RequestTimeout: cfg.Search.RequestTimeout,
		RatePerSecond:  cfg.Search.RatePerSecond,
		Burst:          cfg.Search.Burst,
	}, logger)

	sink := audit.NewNop()
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("engramd"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Drain()

		sink, err = audit.NewSink(nc, audit.SinkConfig{
			Enabled:       true,
			BufferSize:    cfg.NATS.BufferSize,
			Subject:       cfg.NATS.Subject,
			Stream:        cfg.NATS.Stream,
			RetentionDays: cfg.NATS.RetentionDays,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create audit sink", zap.Error(err))
		}
	}
	defer sink.Close()

	tokenRedis := redis.NewClient(&redis.Options{
		Addr:     cfg.Auth.RedisAddr,
		Password: cfg.Auth.RedisPassword,
		DB:       cfg.Auth.RedisDB,
	})
	defer tokenRedis.Close()

	store, err := auth.NewRedisStore(tokenRedis, auth.StoreConfig{
		HotCacheTTL:  cfg.Auth.HotCacheTTL,
		HotCacheSize: cfg.Auth.HotCacheSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create token store", zap.Error(err))
	}
	defer store.Close()

	pool, err := tasks.NewPool(tasks.Config{
		Workers:      cfg.Tasks.Workers,
		DrainTimeout: cfg.Tasks.DrainTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create task pool", zap.Error(err))
	}
	defer pool.Close()

	authn, err := auth.NewAuthenticator(store, pool.Named("token_last_used"), auth.AuthenticatorConfig{
		NegativeDelay: cfg.Auth.NegativeDelay,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create authenticator", zap.Error(err))
	}

	router, err := tenant.NewRouter(graphClient, reg, sink, tenant.DefaultRouterConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create tenant router", zap.Error(err))
	}

	svc, err := memory.NewService(router, searchClient, pool, sink, reg, memory.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create memory service", zap.Error(err))
	}
	defer svc.Close()

	limiter := ratelimit.NewLimiter(logger)
	limiter.Start(time.Minute)
	defer limiter.Stop()

	srv := server.NewServer(svc, authn, limiter, graphClient, searchClient, server.Config{
		RequestTimeout:   cfg.HTTP.RequestTimeout,
		DefaultRateLimit: cfg.RateLimit.DefaultPerMinute,
	}, logger)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.HTTP.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      cors(srv.Routes()),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shut down", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

func buildLogger(cfg config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

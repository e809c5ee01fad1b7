package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentrastack/sentra-triage/internal/alertqueue"
	"github.com/sentrastack/sentra-triage/internal/api"
	"github.com/sentrastack/sentra-triage/internal/cache"
	"github.com/sentrastack/sentra-triage/internal/config"
	"github.com/sentrastack/sentra-triage/internal/engine"
	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/metrics"
	"github.com/sentrastack/sentra-triage/internal/poller"
	"github.com/sentrastack/sentra-triage/internal/repo"
	"github.com/sentrastack/sentra-triage/internal/safety"
	"github.com/sentrastack/sentra-triage/internal/services"
	"github.com/sentrastack/sentra-triage/internal/store"
	"github.com/sentrastack/sentra-triage/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting triage engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Store.Redis.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	var st store.Store
	if cfg.Store.Redis.Addr != "" {
		redisStore, err := store.NewRedisStore(store.RedisConfig{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			logger.Error("redis store unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisStore.Close()
		st = redisStore
	} else {
		logger.Warn("no redis address configured, queue state is in-memory only")
		st = store.NewMemoryStore()
	}

	graphClient := repo.NewGraphClient(
		cfg.Clients.Graph.BaseURL,
		cfg.Clients.Graph.APIKey,
		cfg.Clients.Graph.Timeout,
		cacheProvider,
		cfg.Cache.StatsTTL,
		cfg.Cache.ListTTL,
	)
	indexClient := repo.NewIndexClient(
		cfg.Clients.Index.BaseURL,
		cfg.Clients.Index.Username,
		cfg.Clients.Index.Password,
		cfg.Clients.Index.AlertsPattern,
		cfg.Clients.Index.VulnsPattern,
		cfg.Clients.Index.Timeout,
	)

	completionClient := llm.NewHTTPClient(
		cfg.Clients.Completion.BaseURL,
		cfg.Clients.Completion.APIKey,
		cfg.Clients.Completion.Model,
		cfg.Clients.Completion.Timeout,
	)
	gate := llm.NewGate(completionClient, cfg.Clients.Completion.MaxConcurrent)

	pipeline := engine.NewPipeline(
		logger,
		safety.NewValidator(),
		engine.NewClassifier(gate, logger),
		engine.NewCoordinator(graphClient, indexClient, logger),
		engine.NewSynthesizer(gate, logger),
	)

	queue := alertqueue.NewManager(st, pipeline, cfg.Queue.Capacity, logger)
	scheduler := poller.NewScheduler(st, indexClient, queue, cfg.Poller.Interval, cfg.Poller.Lookback, cfg.Queue.Capacity, logger)

	service := services.NewTriageService(pipeline, queue, scheduler, st, logger)
	defer service.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Sync(ctx); err != nil {
		logger.Warn("initial poller sync failed", slog.Any("error", err))
	}

	handlers := api.NewHandlers(service, logger)
	server, err := api.NewServer(cfg.Server, handlers.Routes())
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("triage engine stopped")
}

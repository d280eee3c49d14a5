package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/api"
	"github.com/stitts-dev/squad-optimizer/internal/api/handlers"
	"github.com/stitts-dev/squad-optimizer/internal/cache"
	"github.com/stitts-dev/squad-optimizer/internal/engine"
	"github.com/stitts-dev/squad-optimizer/internal/events"
	"github.com/stitts-dev/squad-optimizer/internal/metrics"
	"github.com/stitts-dev/squad-optimizer/internal/store"
	"github.com/stitts-dev/squad-optimizer/internal/websocket"
	"github.com/stitts-dev/squad-optimizer/pkg/config"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
)

const serviceName = "squad-optimizer"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService(serviceName)
	log.WithFields(logrus.Fields{
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting squad optimizer")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := engine.OptionsFromConfig(cfg, log)
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}

	checks := map[string]handlers.Check{"database": nil, "redis": nil, "nats": nil}

	policy := cache.Policy{MaxAge: cfg.Cache.MaxAge}
	var resultCache cache.Cache = cache.NewMemoryCache(policy)
	if cfg.Cache.Backend == "redis" {
		if cfg.RedisURL == "" {
			log.Fatal("cache.backend is redis but redis_url is empty")
		}
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		redisCache := cache.NewRedisCache(client, serviceName, policy, logger.WithComponent(log, "cache"))
		resultCache = redisCache
		checks["redis"] = redisCache.Ping
	}
	opts.Results = resultCache
	opts.Tables = cache.NewTableCache(resultCache, logger.WithComponent(log, "cache"))

	var snapshots *handlers.SnapshotHandler
	if cfg.DatabaseURL != "" {
		st, err := store.Open(cfg.DatabaseURL, cfg.IsDevelopment(), logger.WithComponent(log, "store"))
		if err != nil {
			log.Fatalf("Failed to open candidate store: %v", err)
		}
		opts.Snapshots = st
		snapshots = handlers.NewSnapshotHandler(st, opts.Tables, log)
		checks["database"] = st.Ping
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, logger.WithComponent(log, "events"))
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = np
		checks["nats"] = func(context.Context) error {
			if !np.Connected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	defer publisher.Close()
	opts.Publisher = publisher

	m := metrics.New()
	opts.Metrics = m

	hub := websocket.NewHub(logger.WithComponent(log, "websocket"))
	go hub.Run(ctx)
	opts.Progress = hub

	eng, err := engine.New(opts, log)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	router := api.NewRouter(api.Deps{
		Optimization: handlers.NewOptimizationHandler(eng, log),
		Snapshots:    snapshots,
		Health:       handlers.NewHealthHandler(serviceName, checks, log),
		Progress:     hub.HandleWebSocket,
		Metrics:      m.Handler(),
		Logger:       logger.WithComponent(log, "http"),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Squad optimizer started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down squad optimizer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Forced shutdown: %v", err)
	}
	log.Info("Squad optimizer exited")
}

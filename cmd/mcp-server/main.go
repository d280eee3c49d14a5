package main

import (
	"context"
	"crypto/subtle"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/cache"
	"github.com/stitts-dev/squad-optimizer/internal/engine"
	"github.com/stitts-dev/squad-optimizer/internal/mcptools"
	"github.com/stitts-dev/squad-optimizer/internal/store"
	"github.com/stitts-dev/squad-optimizer/pkg/config"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

const serviceName = "squad-optimizer-mcp"

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file")
		addr        = flag.String("addr", ":8090", "listen address")
		mcpPath     = flag.String("path", "/mcp", "MCP endpoint path")
		requireAuth = flag.Bool("require-auth", true, "require API key auth via SQUAD_MCP_API_KEY")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService(serviceName)

	apiKey := strings.TrimSpace(os.Getenv("SQUAD_MCP_API_KEY"))
	if *requireAuth && apiKey == "" {
		log.Fatal("SQUAD_MCP_API_KEY is required (set env var or run with -require-auth=false)")
	}

	opts, err := engine.OptionsFromConfig(cfg, log)
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}
	results := cache.NewMemoryCache(cache.Policy{MaxAge: cfg.Cache.MaxAge})
	opts.Results = results
	opts.Tables = cache.NewTableCache(results, logger.WithComponent(log, "cache"))
	if cfg.DatabaseURL != "" {
		st, err := store.Open(cfg.DatabaseURL, cfg.IsDevelopment(), logger.WithComponent(log, "store"))
		if err != nil {
			log.Fatalf("Failed to open candidate store: %v", err)
		}
		opts.Snapshots = st
	}

	eng, err := engine.New(opts, log)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: serviceName, Version: "v1.0.0"}, nil)
	tools := mcptools.New(eng, logger.WithComponent(log, "mcp"))
	tools.Register(server)

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if apiKey != "" {
		router.Use(requireAPIKey(apiKey))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.HealthStatus{Status: "ok", Service: serviceName, Timestamp: time.Now().UTC()})
	})
	router.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": tools.Registry()})
	})
	router.Any(*mcpPath, gin.WrapH(handler))

	srv := &http.Server{Addr: *addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{
			"addr": *addr,
			"path": *mcpPath,
			"auth": apiKey != "",
		}).Info("MCP server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Forced shutdown: %v", err)
	}
	log.Info("MCP server exited")
}

// requireAPIKey accepts the key as X-API-Key or a Bearer token.
func requireAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if key == "" {
			authz := c.GetHeader("Authorization")
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				key = strings.TrimSpace(authz[7:])
			}
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "unauthorized", Code: "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}

package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatbroker/internal/config"
	"chatbroker/internal/logging"
	"chatbroker/internal/rpc"
	"chatbroker/internal/rpcauth"
)

// Config configures the HTTP operator server, matching
// pkg/server/server.go's Config/DefaultConfig shape.
type Config struct {
	Port         string
	ServiceToken string // service-to-service Bearer token; no route registered by NewRouter checks it
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane server timeouts for defaultPort, overridable
// by the HTTP_PORT environment variable.
func DefaultConfig(defaultPort string) Config {
	return Config{
		Port:         config.GetEnv("HTTP_PORT", defaultPort),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps is everything NewRouter wires routes against.
type Deps struct {
	DB          *sql.DB // raw handle, pinged by /health
	Users       *rpc.UserService
	Credentials *rpc.CredentialService
	Commands    *rpc.CommandService
	Redeems     *rpc.RedeemService
	AI          *rpc.AIService
	Plugins     *rpc.PluginService
	Platforms   *rpc.PlatformService
	Pipelines   *rpc.EventPipelineService
	Issuer      *rpcauth.Issuer
}

// NewRouter builds the gin engine: ambient middleware stack, health and
// metrics endpoints open, everything else behind jwtAuthMiddleware.
// Matches pkg/server/server.go's SetupServiceRouter ordering
// (request-id, logging, recovery, cors, then routes).
func NewRouter(deps Deps, logger logging.Logger) *gin.Engine {
	if config.GetEnv("GIN_MODE", "debug") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(logger))
	router.Use(recoveryMiddleware(logger))
	router.Use(corsMiddleware())

	router.GET("/health", healthHandler(deps.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/")
	authed.Use(jwtAuthMiddleware(deps.Issuer))
	registerRoutes(authed, deps)

	return router
}

// healthHandler reports 200 if deps.DB (when set) answers a ping within
// 2 seconds, else 503.
func healthHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Start runs router on cfg.Port until SIGINT/SIGTERM, then shuts down
// gracefully. Matches pkg/server/server.go's Start.
func Start(cfg Config, router *gin.Engine, logger logging.Logger) error {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("httpapi: failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

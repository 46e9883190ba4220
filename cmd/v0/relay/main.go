package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/emberwire/relay/internal/v0/config"
	"github.com/emberwire/relay/internal/v0/control"
	"github.com/emberwire/relay/internal/v0/health"
	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/ratelimit"
	"github.com/emberwire/relay/internal/v0/registry"
	"github.com/emberwire/relay/internal/v0/tracing"
	"github.com/emberwire/relay/internal/v0/transport"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Tracing (Optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "relay", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					slog.Error("Error shutting down tracer provider", "error", err)
				}
			}()
		}
	} else {
		slog.Info("Tracing disabled (OTEL_COLLECTOR_ADDR not set)")
	}

	// --- Core Services ---
	reg := registry.New(ratelimit.JoinConfig{
		MaxUsers:    cfg.MaxUsers,
		PerNSeconds: cfg.PerNSeconds,
		BanFor:      cfg.BanFor,
	})
	ctl := control.New(reg)
	limiter, err := ratelimit.NewHTTPLimiter(cfg.RateLimitHTTP, cfg.RateLimitWsIP)
	if err != nil {
		slog.Error("Failed to build rate limiter", "error", err)
		os.Exit(1)
	}
	hub := transport.NewHub(reg, ctl, limiter)

	// --- Set up Server ---
	router := gin.Default()

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"POST", "DELETE"}
	router.Use(cors.New(corsConfig))

	// Error handling
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("relay"))

	// Routing
	hub.RegisterRoutes(router, cfg.EnableInspect)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(reg)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Relay starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close every room so each session receives a close cause before the
	// listener goes away.
	reg.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	slog.Info("Server exiting")
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	apphttp "github.com/canteo/chat-relay/internal/adapters/primary/http"
	mw "github.com/canteo/chat-relay/internal/adapters/primary/http/middleware"
	"github.com/canteo/chat-relay/internal/adapters/secondary/backplane"
	"github.com/canteo/chat-relay/internal/auth"
	"github.com/canteo/chat-relay/internal/config"
	corerelay "github.com/canteo/chat-relay/internal/core/relay"
	"github.com/canteo/chat-relay/internal/infrastructure/logging"
	"github.com/canteo/chat-relay/internal/infrastructure/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})

	logger.Info("starting chat relay",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relay core, optionally instrumented and backplane-connected.
	relayOpts := []corerelay.Option{}

	if cfg.Telemetry.Enabled {
		meter, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    cfg.App.Name,
			ServiceVersion: cfg.App.Version,
			ExportInterval: cfg.Telemetry.ExportInterval,
			OutputPath:     cfg.Telemetry.OutputPath,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer shutdownTelemetry()

		metrics, err := corerelay.NewMetrics(meter)
		if err != nil {
			logger.Error("failed to create relay metrics", "error", err)
			os.Exit(1)
		}
		relayOpts = append(relayOpts, corerelay.WithMetrics(metrics))
	}

	var bp *backplane.Redis
	if cfg.BackplaneEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis backplane", "error", err)
			os.Exit(1)
		}
		bp = backplane.NewRedis(rdb, cfg.Redis.Channel, logger)
		defer bp.Close()
		relayOpts = append(relayOpts, corerelay.WithBackplane(bp))
		logger.Info("redis backplane connected", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	relay := corerelay.New(logger, relayOpts...)
	go relay.Run(ctx)

	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)

	router := buildRouter(cfg, logger, relay, bp, tokenManager)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	logger.Info("chat relay stopped")
}

// buildRouter assembles the HTTP surface: health probes, the websocket
// endpoint, and (in development only) token minting.
func buildRouter(
	cfg *config.Config,
	logger *slog.Logger,
	relay *corerelay.Relay,
	bp *backplane.Redis,
	tm *auth.TokenManager,
) chi.Router {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var healthBackplane apphttp.Pinger
	if bp != nil {
		healthBackplane = bp
	}
	healthHandler := apphttp.NewHealthHandler(relay, healthBackplane, cfg.App.Version)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)
	r.Get("/health", healthHandler.HandleHealth)

	wsHandler := apphttp.NewWebSocketHandler(relay, tm, cfg, logger)

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimit.Enabled {
			limiter := mw.NewRateLimiter(mw.RateLimiterConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				BurstSize:         cfg.RateLimit.BurstSize,
				CleanupInterval:   time.Minute,
				TTL:               3 * time.Minute,
			})
			api.Use(limiter.Middleware)
		}

		api.Get("/ws", wsHandler.ServeHTTP)

		if cfg.IsDevelopment() {
			tokenHandler := apphttp.NewTokenHandler(tm, logger)
			api.Group(func(dev chi.Router) {
				if cfg.RateLimit.Enabled {
					authLimiter := mw.NewRateLimiter(mw.AuthRateLimiterConfig())
					dev.Use(authLimiter.Middleware)
				}
				dev.Post("/auth/token", tokenHandler.HandleIssueToken)
			})
			logger.Warn("development token endpoint enabled at /api/v1/auth/token")
		}
	})

	return r
}

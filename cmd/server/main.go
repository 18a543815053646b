package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"catch-hub/internal/api/routes"
	"catch-hub/internal/auth"
	"catch-hub/internal/config"
	"catch-hub/internal/database"
	"catch-hub/internal/logger"
	"catch-hub/internal/repository"
	"catch-hub/internal/services"
	"catch-hub/internal/websocket"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "catch-hub:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("HUB_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config(cfg.Log))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting catch-hub", zap.String("addr", cfg.Server.Addr()))

	var redisClient *database.RedisClient
	if cfg.Redis.URI != "" {
		redisClient, err = database.NewRedisConnection(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	audience, err := buildAudience(cfg, redisClient, log)
	if err != nil {
		return err
	}

	var limiter services.RateLimiter = services.NewLocalRateLimiter(100_000, cfg.Server.HandshakeWindow*2)
	if redisClient != nil {
		limiter = services.NewRedisRateLimiter(redisClient.GetClient())
	}

	verifier := auth.NewVerifier(cfg.JWT.Secret, auth.WithLeeway(cfg.JWT.Leeway))
	hub := websocket.NewHub(websocket.Options{
		SendBufferSize:    cfg.WebSocket.SendBufferSize,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		WriteWait:         cfg.WebSocket.WriteWait,
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		HeartbeatTimeout:  cfg.WebSocket.HeartbeatTimeout,
		InboundRate:       cfg.WebSocket.InboundRate,
		InboundBurst:      cfg.WebSocket.InboundBurst,
	}, verifier, audience, log)

	router := routes.NewRouter(cfg, hub, verifier, limiter, log)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		log.Info("Server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Close websockets first; http.Server.Shutdown does not wait for
		// hijacked connections.
		hubErr := hub.Shutdown(shutdownCtx)
		srvErr := server.Shutdown(shutdownCtx)
		return errors.Join(hubErr, srvErr)
	})

	err = g.Wait()
	log.Info("Server stopped", zap.Error(err))
	return err
}

// buildAudience wires the friends lookup behind a cache. Without a database
// presence and new-catch events reach nobody.
func buildAudience(cfg *config.Config, redisClient *database.RedisClient, log *zap.Logger) (websocket.AudienceResolver, error) {
	if cfg.Database.URI == "" {
		log.Warn("No database configured; presence and catch events have no audience")
		return websocket.NoAudience{}, nil
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	friends := repository.NewFriendRepository(db)

	if redisClient != nil {
		return repository.NewRedisAudience(friends, redisClient.GetClient(), cfg.Presence.AudienceCacheTTL, log), nil
	}
	return repository.NewMemoryAudience(friends, cfg.Presence.AudienceCacheSize, cfg.Presence.AudienceCacheTTL, log), nil
}

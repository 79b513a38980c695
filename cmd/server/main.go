package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/api"
	"github.com/mtr002/wishlist-jobs/internal/app"
	"github.com/mtr002/wishlist-jobs/internal/config"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/nats"
	"github.com/mtr002/wishlist-jobs/internal/websocket"
)

func main() {
	logger.Init("wishjobs-admin")
	logger.Logger.Info().Msg("Starting admin server")

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	a, err := app.New(ctx, cfg, app.WithMigrations(), app.WithHub(hub))
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	if cfg.NATS.URL != "" {
		consumer, err := nats.NewServer(cfg.NATS.URL, a.Manager)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to create NATS consumer")
		}
		defer consumer.Close()
		if err := consumer.Subscribe(); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to subscribe to NATS")
		}
	}

	router := api.NewRouter(api.Dependencies{
		Manager:   a.Manager,
		Runner:    a.Runner,
		Cache:     a.Cache,
		Hub:       hub,
		DB:        a.Store,
		Retention: cfg.Uploads.CompletedRetention,
	})
	server := api.NewServer(router, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Admin server failed")
			a.Close()
			os.Exit(1)
		}
	}

	logger.Logger.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Shutdown failed")
	}
	logger.Logger.Info().Msg("Admin server stopped")
}

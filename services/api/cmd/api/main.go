package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"promptapi/internal/util"
	"promptapi/services/api/internal/app"
	"promptapi/services/api/internal/bootstrap"
	"promptapi/services/api/internal/config"
	"promptapi/services/api/internal/server"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer dataStore.Close()

	rdb := bootstrap.NewRedis(cfg)
	if rdb != nil {
		defer rdb.Close()
	}
	tokens, err := bootstrap.NewTokenManager(cfg, rdb)
	if err != nil {
		log.Fatalf("failed to init token manager: %v", err)
	}
	images, err := bootstrap.NewImageHost(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init image host: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:               dataStore,
		Tokens:              tokens,
		Images:              images,
		Generator:           bootstrap.NewGenerator(cfg),
		Logger:              logger,
		GenerationDelay:     bootstrap.GenerationDelay(cfg),
		GenerationWorkers:   cfg.GenerationWorkers,
		GenerationQueueSize: cfg.GenerationQueueSize,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		MaxUploadFiles:      cfg.MaxUploadFiles,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                         appCore,
		Redis:                       rdb,
		TrustedProxies:              trusted,
		LoginRateLimitPerMinute:     cfg.LoginRateLimitPerMinute,
		AnonTokenRateLimitPerMinute: cfg.AnonTokenRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", addr, "store", cfg.StoreBackend, "image_host", cfg.ImageHost, "generator", cfg.Generator)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	}
}

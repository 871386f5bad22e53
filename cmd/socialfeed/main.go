// Command socialfeed serves the social feed REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GetStream/stream-social-feed/api"
	"github.com/GetStream/stream-social-feed/api/validator"
	"github.com/GetStream/stream-social-feed/config"
	"github.com/GetStream/stream-social-feed/database"
	"github.com/GetStream/stream-social-feed/feed"
	"github.com/GetStream/stream-social-feed/metrics"
	"github.com/GetStream/stream-social-feed/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	logger.Info("Connected to database")

	engine := &feed.Engine{
		Logger:      logger,
		Store:       db,
		MaxAttempts: cfg.MaxAttempts,
	}
	if cfg.RedisAddr != "" {
		cache, err := redis.Connect(ctx, cfg.RedisAddr, cfg.UnreadTTL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer cache.Close()
		engine.Cache = cache
		logger.Info("Connected to redis", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("No redis address configured, running without cache")
	}

	a := &api.API{
		Logger:  logger,
		Service: engine,
		Val:     validator.New(),
		Secret:  []byte(cfg.JWTSecret),
	}
	if cfg.RateLimit > 0 {
		a.Limiter = api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/", a)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

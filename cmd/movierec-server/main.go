// Package main provides the HTTP server for the movie recommender.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/app"
	"github.com/raphaelgruber/movie-recommender/internal/config"
	"github.com/raphaelgruber/movie-recommender/internal/server"
)

func main() {
	skipWarmup := flag.Bool("skip-warmup", false, "do not preload models on startup")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	slog.Info("starting movierec-server", "port", cfg.ServerPort, "models_config", cfg.ModelsConfigPath, "use_ssm", cfg.UseSSM)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, logger, app.Options{})
	cancel()
	if err != nil {
		slog.Error("failed to initialize recommender", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Preload models before accepting traffic.
	if !*skipWarmup && os.Getenv("MOVIEREC_SKIP_WARMUP") != "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		warmed := a.Recommender.Warmup(ctx)
		cancel()
		slog.Info("warmup finished", "models", warmed)
	}

	srv := server.New(a.Recommender, server.Options{
		RateLimit:      cfg.RateLimit,
		RequestTimeout: cfg.RequestTimeout,
		Collector:      a.Collector,
		Prometheus:     a.Prometheus,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))
		slog.Info("metrics available", "url", fmt.Sprintf("http://localhost:%s/metrics", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

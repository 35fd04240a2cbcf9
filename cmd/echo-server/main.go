package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"latency-probe/internal/config"
	"latency-probe/internal/echo"
	"latency-probe/internal/stats"
)

func main() {
	cfg, err := config.LoadEcho()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	serverConfig, err := cfg.ServerConfig()
	if err != nil {
		log.Fatalf("Invalid server configuration: %v", err)
	}

	server, err := echo.New(serverConfig, echo.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create echo server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ctx)
	})

	if cfg.StatsAddr != "" {
		hub := stats.NewHub(server.Metrics(), cfg.MetricsInterval, stats.WithLogger(logger))
		g.Go(func() error {
			return hub.ListenAndServe(ctx, cfg.StatsAddr)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("Echo server failed: %v", err)
	}

	logger.Info("echo server stopped")
}

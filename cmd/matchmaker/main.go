package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	gogrpc "google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"

	"pongnet/core/internal/config"
	"pongnet/core/internal/grpc"
	httpapi "pongnet/core/internal/http"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/matchmaking"
)

func main() {
	cfg, err := config.LoadMatchmaker()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging error:", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("matchmaker stopped", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.MatchmakerConfig, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	//1.- Redis when configured, process memory otherwise.
	var store matchmaking.Store
	if cfg.RedisURL != "" {
		redisStore, err := matchmaking.OpenRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("using redis match store")
	} else {
		store = matchmaking.NewMemoryStore()
		logger.Warn("no redis url configured, matches are kept in memory")
	}

	coordinator := matchmaking.NewCoordinator(store,
		matchmaking.WithQueueTTL(cfg.QueueTTL),
		matchmaking.WithLogger(logger.With(logging.String("component", "coordinator"))),
	)
	server := matchmaking.NewServer(coordinator, logger)

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	srv := gogrpc.NewServer(grpc.ServerOptions(cfg.SharedSecret)...)
	grpc.RegisterLinkServer(srv, server)

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Service: "matchmaker",
		Logger:  logger,
		Metrics: func() []httpapi.Metric {
			queue := coordinator.Stats()
			link := server.Stats()
			return []httpapi.Metric{
				{Name: "queued", Help: "Players waiting in the 1v1 queue.", Value: float64(queue.Queued)},
				{Name: "pending_tournaments", Help: "Tournament pairings waiting for a second player.", Value: float64(queue.PendingTournaments)},
				{Name: "links", Help: "Open gateway streams.", Value: float64(link.Streams)},
				{Name: "requests_total", Help: "Requests handled on gateway streams.", Counter: true, Value: float64(link.Requests)},
			}
		},
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coordinator.RunSweeper(ctx, cfg.QueueSweepInterval)
	}()
	go func() {
		defer wg.Done()
		if err := httpapi.ServeOps(ctx, cfg.OpsAddress, handlers, logger); err != nil {
			logger.Error("ops listener failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	logger.Info("matchmaker started", logging.String("addr", cfg.Address))
	serveErr := srv.Serve(ln)
	cancel()
	wg.Wait()
	return serveErr
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pongnet/core/internal/config"
	httpapi "pongnet/core/internal/http"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/replay"
	"pongnet/core/internal/simhost"
	"pongnet/core/internal/simulation"
)

const (
	retentionInterval = 10 * time.Minute
	sweepWindow       = time.Minute
	sweepsPerWindow   = 2
)

func main() {
	cfg, err := config.LoadSimHost()
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

	monitor := simulation.NewBudgetMonitor(time.Duration(float64(time.Second) / cfg.TickRate))
	registryOpts := []simhost.Option{simhost.WithTickRate(cfg.TickRate), simhost.WithMonitor(monitor)}

	//1.- Recordings and their retention are optional and share one directory.
	var tracker *replay.Tracker
	var cleaner *replay.Cleaner
	if cfg.ReplayDir != "" {
		tracker = &replay.Tracker{}
		registryOpts = append(registryOpts, simhost.WithRecordings(cfg.ReplayDir, tracker))
		policy := replay.RetentionPolicy{MaxMatches: cfg.ReplayMaxMatches, MaxAge: cfg.ReplayMaxAge}
		if policy.Enabled() {
			cleaner = replay.NewCleaner(cfg.ReplayDir, policy, logger.With(logging.String("component", "replay_cleaner")))
		}
	}

	server := simhost.NewServer(
		simhost.WithServerLogger(logger),
		simhost.WithRegistryOptions(registryOpts...),
	)

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Service:     "simhost",
		Logger:      logger,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(sweepWindow, sweepsPerWindow, nil),
		Ticks:       monitor.Snapshot,
		Recordings:  tracker.Snapshot,
		Storage:     cleaner.Stats,
		Sweeper:     sweeperFor(cleaner),
		Metrics: func() []httpapi.Metric {
			stats := server.Stats()
			return []httpapi.Metric{
				{Name: "links", Help: "Connected gateway links.", Value: float64(stats.Links)},
				{Name: "matches", Help: "Running matches.", Value: float64(stats.Matches)},
				{Name: "dropped_total", Help: "State lines dropped on full link outboxes.", Counter: true, Value: float64(stats.Dropped)},
			}
		},
	})

	var wg sync.WaitGroup
	if cleaner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleaner.Run(ctx, retentionInterval)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpapi.ServeOps(ctx, cfg.OpsAddress, handlers, logger); err != nil {
			logger.Error("ops listener failed", logging.Error(err))
		}
	}()

	logger.Info("simulation host started", logging.String("addr", cfg.Address), logging.Float64("tick_rate", cfg.TickRate))
	err = server.ListenAndServe(ctx, cfg.Address)
	stop()
	wg.Wait()
	if err != nil {
		logger.Error("simulation host stopped", logging.Error(err))
		os.Exit(1)
	}
}

func sweeperFor(cleaner *replay.Cleaner) httpapi.Sweeper {
	if cleaner == nil {
		return nil
	}
	return httpapi.SweeperFunc(func(context.Context) (string, error) {
		cleaner.RunOnce()
		stats := cleaner.Stats()
		return fmt.Sprintf("%d recordings kept, %d removed", stats.Matches, stats.Removed), nil
	})
}

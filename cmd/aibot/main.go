package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"pongnet/core/internal/bots"
	"pongnet/core/internal/config"
	httpapi "pongnet/core/internal/http"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/simulation"
)

func main() {
	cfg, err := config.LoadAI()
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

	link, err := bots.NewLink(bots.LinkConfig{
		URL:        cfg.GatewayURL,
		Secret:     cfg.BackendSecret,
		RetryDelay: cfg.ReconnectDelay,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("invalid gateway link", logging.Error(err))
		os.Exit(1)
	}
	monitor := simulation.NewBudgetMonitor(cfg.DecisionInterval)
	controller := bots.NewController(bots.ControllerConfig{
		Sink:             link,
		DecisionInterval: cfg.DecisionInterval,
		BotOptions:       []bots.BotOption{bots.WithPerceptionInterval(cfg.PerceptionInterval)},
		Monitor:          monitor,
		Logger:           logger.With(logging.String("component", "controller")),
	})
	link.Bind(controller)

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Service: "aibot",
		Logger:  logger,
		Ticks:   monitor.Snapshot,
		Metrics: func() []httpapi.Metric {
			snapshot := controller.Snapshot()
			return []httpapi.Metric{
				{Name: "bots", Help: "Matches with a running autonomous opponent.", Value: float64(snapshot.Bots)},
				{Name: "released_total", Help: "Bots released after their match ended.", Counter: true, Value: float64(snapshot.Released)},
			}
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpapi.ServeOps(ctx, cfg.OpsAddress, handlers, logger); err != nil {
			logger.Error("ops listener failed", logging.Error(err))
		}
	}()

	logger.Info("AI controller started", logging.String("gateway", cfg.GatewayURL), logging.Duration("decision_interval", cfg.DecisionInterval))
	err = link.Run(ctx)
	controller.StopAll()
	stop()
	wg.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Error("AI controller stopped", logging.Error(err))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"pongnet/core/internal/config"
	"pongnet/core/internal/gateway"
	httpapi "pongnet/core/internal/http"
	"pongnet/core/internal/logging"
)

func main() {
	cfg, err := config.LoadGateway()
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
		logger.Error("gateway stopped", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.GatewayConfig, logger *logging.Logger) error {
	authenticator, err := gateway.NewHMACAuthenticator(cfg.AuthSecret, cfg.AuthLeeway)
	if err != nil {
		return err
	}

	//1.- Backend links first so the router never sees a nil dependency.
	sim := gateway.NewSimLink(cfg.SimHostAddress, cfg.ReconnectDelay, logger)
	matches := gateway.NewMatchLink(gateway.MatchLinkConfig{
		Address:       cfg.MatchmakerAddr,
		Secret:        cfg.BackendSecret,
		LookupTimeout: cfg.LookupTimeout,
		RetryDelay:    cfg.ReconnectDelay,
		Logger:        logger,
	})
	router := gateway.NewRouter(gateway.Config{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
		MaxConnsPerIP:   cfg.MaxConnsPerIP,
		BackendSecret:   cfg.BackendSecret,
		LookupTimeout:   cfg.LookupTimeout,
		PaddleInterval:  cfg.PaddleInterval,
		Authenticator:   authenticator,
		SimHost:         sim,
		Matchmaker:      matches,
		Logger:          logger.With(logging.String("component", "router")),
	})
	sim.Bind(router.OnState)
	matches.Bind(router.OnMatchEvent)

	//2.- Player sockets and the ops surface share the public listener unless a
	// dedicated ops address is configured.
	handlers := newOpsHandlers(router, sim, matches, logger)
	mux := http.NewServeMux()
	mux.Handle("/ws", router)
	if cfg.OpsAddress == "" {
		handlers.Register(mux)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}
	launch("simhost link", sim.Run)
	launch("matchmaker link", matches.Run)
	launch("listener", func(ctx context.Context) error {
		return httpapi.Serve(ctx, cfg.Address, mux, cfg.TLSCertPath, cfg.TLSKeyPath, logger)
	})
	if cfg.OpsAddress != "" {
		launch("ops listener", func(ctx context.Context) error {
			return httpapi.ServeOps(ctx, cfg.OpsAddress, handlers, logger)
		})
	}
	logger.Info("gateway started",
		logging.String("addr", cfg.Address),
		logging.String("socket_url", socketURL(cfg.Address, cfg.TLSCertPath != "" && cfg.TLSKeyPath != "")),
		logging.String("simhost", cfg.SimHostAddress),
		logging.String("matchmaker", cfg.MatchmakerAddr),
	)

	wg.Wait()
	close(errs)
	var joined error
	for err := range errs {
		joined = errors.Join(joined, err)
	}
	return joined
}

func newOpsHandlers(router *gateway.Router, sim *gateway.SimLink, matches *gateway.MatchLink, logger *logging.Logger) *httpapi.HandlerSet {
	return httpapi.NewHandlerSet(httpapi.Options{
		Service: "gateway",
		Logger:  logger,
		Checks: map[string]httpapi.Check{
			"simhost":    connected(sim.Connected),
			"matchmaker": connected(matches.Connected),
		},
		Metrics: func() []httpapi.Metric {
			stats := router.Stats()
			return []httpapi.Metric{
				{Name: "clients", Help: "Authenticated player sockets.", Value: float64(stats.Clients)},
				{Name: "backends", Help: "Registered backend sockets.", Value: float64(stats.Backends)},
				{Name: "matches", Help: "Matches with at least one subscriber.", Value: float64(stats.Matches)},
				{Name: "subscribers", Help: "Match subscriptions across all matches.", Value: float64(stats.Subscribers)},
				{Name: "rejected_total", Help: "Sockets refused by the per address cap.", Counter: true, Value: float64(stats.Rejected)},
				{Name: "dropped_total", Help: "Frames dropped on full outboxes.", Counter: true, Value: float64(stats.Dropped)},
				{Name: "paddle_throttled_total", Help: "Paddle updates dropped by the per player throttle.", Counter: true, Value: float64(stats.Throttled)},
			}
		},
	})
}

func connected(isUp func() bool) httpapi.Check {
	return func() error {
		if !isUp() {
			return gateway.ErrBackendUnavailable
		}
		return nil
	}
}

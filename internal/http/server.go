package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"pongnet/core/internal/logging"
)

const shutdownGrace = 5 * time.Second

// Serve runs handler on addr until ctx is cancelled, then drains in-flight requests.
// Empty cert and key paths serve plain HTTP.
func Serve(ctx context.Context, addr string, handler http.Handler, certPath, keyPath string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.L()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listener starting", logging.String("addr", addr), logging.Bool("tls", certPath != ""))
		if certPath != "" {
			errCh <- srv.ListenAndServeTLS(certPath, keyPath)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrapf(err, "serve %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrapf(err, "shutdown %s", addr)
	}
	logger.Info("http listener stopped", logging.String("addr", addr))
	return nil
}

// ServeOps registers handlers on a fresh mux and serves it on addr. An empty addr
// disables the ops listener.
func ServeOps(ctx context.Context, addr string, handlers *HandlerSet, logger *logging.Logger) error {
	if addr == "" || handlers == nil {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	handlers.Register(mux)
	return Serve(ctx, addr, logging.HTTPTraceMiddleware(logger)(mux), "", "", logger)
}

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pongnet/core/internal/gateway"
	"pongnet/core/internal/logging"
)

func newTestOps(t *testing.T) (*http.ServeMux, *gateway.Router) {
	t.Helper()
	logger := logging.NewTestLogger()
	router := gateway.NewRouter(gateway.Config{Logger: logger})
	sim := gateway.NewSimLink("127.0.0.1:1", time.Second, logger)
	matches := gateway.NewMatchLink(gateway.MatchLinkConfig{Address: "127.0.0.1:1", Logger: logger})
	mux := http.NewServeMux()
	newOpsHandlers(router, sim, matches, logger).Register(mux)
	return mux, router
}

func TestReadinessFailsWhileBackendsAreDown(t *testing.T) {
	mux, _ := newTestOps(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Failures map[string]string `json:"failures"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{"simhost", "matchmaker"} {
		if payload.Failures[name] == "" {
			t.Fatalf("expected %s failure, got %+v", name, payload.Failures)
		}
	}
}

func TestMetricsExposeRouterStats(t *testing.T) {
	mux, _ := newTestOps(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		"gateway_clients 0",
		"gateway_backends 0",
		"# TYPE gateway_rejected_total counter",
		"gateway_paddle_throttled_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

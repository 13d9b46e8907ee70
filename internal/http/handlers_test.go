package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pongnet/core/internal/logging"
	"pongnet/core/internal/replay"
	"pongnet/core/internal/simulation"
)

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubSweeper struct {
	result string
	err    error
	calls  int
}

func (s *stubSweeper) Sweep(context.Context) (string, error) {
	s.calls++
	return s.result, s.err
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2026, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Service: "gateway", Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	handlers.LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Service   string `json:"service"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" || payload.Service != "gateway" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerReportsFailedChecks(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger: logging.NewTestLogger(),
		Checks: map[string]Check{
			"simhost":    func() error { return nil },
			"matchmaker": func() error { return errors.New("link down") },
		},
	})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status   string            `json:"status"`
		Failures map[string]string `json:"failures"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "unavailable" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if len(payload.Failures) != 1 || payload.Failures["matchmaker"] != "link down" {
		t.Fatalf("unexpected failures %+v", payload.Failures)
	}
}

func TestReadinessHandlerOKWithoutChecks(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger()})
	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	start := time.Date(2026, time.January, 2, 15, 0, 0, 0, time.UTC)
	now := start
	handlers := NewHandlerSet(Options{
		Service:    "simhost",
		Logger:     logging.NewTestLogger(),
		TimeSource: func() time.Time { return now },
		Metrics: func() []Metric {
			return []Metric{
				{Name: "matches", Help: "Running matches.", Value: 3},
				{Name: "links", Help: "Connected gateway links.", Value: 1},
			}
		},
		Ticks: func() simulation.TickMetricsSnapshot {
			return simulation.TickMetricsSnapshot{Samples: 120, Average: 16 * time.Millisecond, Overruns: 2}
		},
		Recordings: func() replay.Stats { return replay.Stats{Open: 1, Completed: 4} },
	})
	now = start.Add(90 * time.Second)

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"simhost_uptime_seconds 90",
		"simhost_matches 3",
		"simhost_links 1",
		"# TYPE simhost_tick_samples_total counter",
		"simhost_tick_samples_total 120",
		"simhost_tick_overruns_total 2",
		"simhost_recordings_open 1",
		"simhost_recordings_completed_total 4",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
	if strings.Index(body, "simhost_links") > strings.Index(body, "simhost_matches") {
		t.Fatalf("service metrics should be sorted by name:\n%s", body)
	}
}

func TestSweepHandlerAuthAndRateLimits(t *testing.T) {
	sweeper := &stubSweeper{result: "removed 2"}
	limiter := &stubLimiter{remaining: 1}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Sweeper:     sweeper,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})

	makeRequest := func(method, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/replay/sweep", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.SweepHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(http.MethodGet, "topsecret"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "topsecret"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected sweeper invoked once, got %d", sweeper.calls)
	}
	if resp := makeRequest(http.MethodPost, "topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestSweepHandlerDisabledWithoutToken(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Sweeper: &stubSweeper{}})
	rr := httptest.NewRecorder()
	handlers.SweepHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/replay/sweep", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pongnet/core/internal/logging"
	"pongnet/core/internal/replay"
	"pongnet/core/internal/simulation"
)

// Check reports whether one dependency of the service is usable.
type Check func() error

// Metric is one sample rendered in the Prometheus text format.
type Metric struct {
	Name    string
	Help    string
	Counter bool
	Value   float64
}

// MetricsFunc returns the service specific samples of one scrape.
type MetricsFunc func() []Metric

// Sweeper runs an administrative cleanup and describes its outcome.
type Sweeper interface {
	Sweep(ctx context.Context) (string, error)
}

// SweeperFunc adapts a function into a Sweeper.
type SweeperFunc func(ctx context.Context) (string, error)

// Sweep implements Sweeper.
func (f SweeperFunc) Sweep(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Service     string
	Logger      *logging.Logger
	Checks      map[string]Check
	Metrics     MetricsFunc
	Ticks       func() simulation.TickMetricsSnapshot
	Recordings  func() replay.Stats
	Storage     func() replay.StorageStats
	Sweeper     Sweeper
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational handlers shared by every service.
type HandlerSet struct {
	service     string
	logger      *logging.Logger
	checks      map[string]Check
	metrics     MetricsFunc
	ticks       func() simulation.TickMetricsSnapshot
	recordings  func() replay.Stats
	storage     func() replay.StorageStats
	sweeper     Sweeper
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	service := strings.TrimSpace(opts.Service)
	if service == "" {
		service = "pong"
	}
	return &HandlerSet{
		service:     service,
		logger:      logger,
		checks:      opts.Checks,
		metrics:     opts.Metrics,
		ticks:       opts.Ticks,
		recordings:  opts.Recordings,
		storage:     opts.Storage,
		sweeper:     opts.Sweeper,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/sweep", h.SweepHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Service   string `json:"service"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Service:   h.service,
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler runs every dependency check and fails when any of them does.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string            `json:"status"`
		UptimeSeconds float64           `json:"uptime_seconds"`
		Failures      map[string]string `json:"failures,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", UptimeSeconds: h.uptime().Seconds()}
		for name, check := range h.checks {
			if check == nil {
				continue
			}
			if err := check(); err != nil {
				if resp.Failures == nil {
					resp.Failures = make(map[string]string)
				}
				resp.Failures[name] = err.Error()
			}
		}
		if len(resp.Failures) > 0 {
			status = http.StatusServiceUnavailable
			resp.Status = "unavailable"
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		h.write(w, Metric{Name: "uptime_seconds", Help: "Service uptime in seconds.", Value: h.uptime().Seconds()})

		if h.metrics != nil {
			samples := h.metrics()
			sort.SliceStable(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
			for _, sample := range samples {
				h.write(w, sample)
			}
		}
		if h.ticks != nil {
			ticks := h.ticks()
			h.write(w, Metric{Name: "tick_samples_total", Help: "Simulation steps observed.", Counter: true, Value: float64(ticks.Samples)})
			h.write(w, Metric{Name: "tick_duration_avg_seconds", Help: "Average simulation step duration.", Value: ticks.Average.Seconds()})
			h.write(w, Metric{Name: "tick_duration_max_seconds", Help: "Slowest simulation step.", Value: ticks.Max.Seconds()})
			h.write(w, Metric{Name: "tick_overruns_total", Help: "Simulation steps that exceeded their budget.", Counter: true, Value: float64(ticks.Overruns)})
			h.write(w, Metric{Name: "tick_fps", Help: "Frames per second derived from the average step.", Value: ticks.AverageFPS()})
		}
		if h.recordings != nil {
			stats := h.recordings()
			h.write(w, Metric{Name: "recordings_open", Help: "Match recordings currently being written.", Value: float64(stats.Open)})
			h.write(w, Metric{Name: "recordings_completed_total", Help: "Match recordings closed successfully.", Counter: true, Value: float64(stats.Completed)})
			h.write(w, Metric{Name: "recordings_failures_total", Help: "Recording write failures.", Counter: true, Value: float64(stats.Failures)})
		}
		if h.storage != nil {
			stats := h.storage()
			h.write(w, Metric{Name: "recordings_stored", Help: "Recording bundles retained on disk.", Value: float64(stats.Matches)})
			h.write(w, Metric{Name: "recordings_bytes", Help: "Disk footprint of retained recordings.", Value: float64(stats.Bytes)})
			h.write(w, Metric{Name: "recordings_removed_total", Help: "Recording bundles pruned by retention.", Counter: true, Value: float64(stats.Removed)})
		}
	}
}

// SweepHandler authorises and triggers the administrative cleanup.
func (h *HandlerSet) SweepHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
		Result string `json:"result,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_sweep"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("sweep denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("sweep denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("sweep denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.sweeper == nil {
			reqLogger.Warn("sweep denied: no sweeper configured")
			http.Error(w, "sweeping is unavailable", http.StatusServiceUnavailable)
			return
		}
		result, err := h.sweeper.Sweep(r.Context())
		if err != nil {
			reqLogger.Error("sweep failed", logging.Error(err))
			http.Error(w, "failed to sweep", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("sweep completed", logging.String("result", result))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Result: result})
	}
}

func (h *HandlerSet) write(w http.ResponseWriter, m Metric) {
	name := h.service + "_" + m.Name
	kind := "gauge"
	if m.Counter {
		kind = "counter"
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, m.Help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %g\n", name, m.Value)
}

func (h *HandlerSet) uptime() time.Duration {
	return h.now().Sub(h.started)
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

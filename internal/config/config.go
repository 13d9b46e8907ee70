package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultGatewayAddr is the default listener for browser and backend websockets.
	DefaultGatewayAddr = ":4500"
	// DefaultSimHostAddr is the default TCP listener of the simulation host.
	DefaultSimHostAddr = ":4005"
	// DefaultMatchmakerAddr is the default gRPC listener of the matchmaking coordinator.
	DefaultMatchmakerAddr = ":4010"
	// DefaultGatewayURL is where backend services dial the gateway.
	DefaultGatewayURL = "ws://localhost:4500/ws"

	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxConnsPerIP caps concurrent client sockets from a single source address.
	DefaultMaxConnsPerIP = 10
	// DefaultAuthLeeway tolerates clock skew when checking token expiry.
	DefaultAuthLeeway = 2 * time.Second
	// DefaultLookupTimeout bounds request/response exchanges with the matchmaking link.
	DefaultLookupTimeout = 2 * time.Second
	// DefaultReconnectDelay spaces out redial attempts to backend services.
	DefaultReconnectDelay = time.Second

	// DefaultTickRate is the simulation frequency of every match.
	DefaultTickRate = 60.0
	// DefaultDecisionInterval is the AI decision cadence.
	DefaultDecisionInterval = 30 * time.Millisecond
	// DefaultPerceptionInterval throttles how often the AI refreshes its view of a match.
	DefaultPerceptionInterval = time.Second

	// DefaultQueueTTL bounds how long a player may wait in the 1v1 queue.
	DefaultQueueTTL = 2 * time.Minute
	// DefaultQueueSweepInterval controls how often expired queue entries are dropped.
	DefaultQueueSweepInterval = 10 * time.Second

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Service    string
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// GatewayConfig captures the tunables of the connection router.
type GatewayConfig struct {
	Address         string
	OpsAddress      string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxConnsPerIP   int
	AuthSecret      string
	AuthLeeway      time.Duration
	BackendSecret   string
	SimHostAddress  string
	MatchmakerAddr  string
	LookupTimeout   time.Duration
	PaddleInterval  time.Duration
	ReconnectDelay  time.Duration
	TLSCertPath     string
	TLSKeyPath      string
	Logging         LoggingConfig
}

// SimHostConfig captures the tunables of the simulation host.
type SimHostConfig struct {
	Address          string
	OpsAddress       string
	TickRate         float64
	ReplayDir        string
	ReplayMaxMatches int
	ReplayMaxAge     time.Duration
	AdminToken       string
	Logging          LoggingConfig
}

// AIConfig captures the tunables of the autonomous controller service.
type AIConfig struct {
	GatewayURL         string
	OpsAddress         string
	BackendSecret      string
	DecisionInterval   time.Duration
	PerceptionInterval time.Duration
	ReconnectDelay     time.Duration
	Logging            LoggingConfig
}

// MatchmakerConfig captures the tunables of the matchmaking coordinator.
type MatchmakerConfig struct {
	Address            string
	OpsAddress         string
	SharedSecret       string
	RedisURL           string
	QueueTTL           time.Duration
	QueueSweepInterval time.Duration
	Logging            LoggingConfig
}

// LoadGateway reads the router configuration from PONG_* environment variables.
func LoadGateway() (*GatewayConfig, error) {
	var problems []string
	cfg := &GatewayConfig{
		Address:         getString("PONG_GATEWAY_ADDR", DefaultGatewayAddr),
		OpsAddress:      strings.TrimSpace(os.Getenv("PONG_OPS_ADDR")),
		AllowedOrigins:  parseList(os.Getenv("PONG_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    parseDuration("PONG_PING_INTERVAL", DefaultPingInterval, &problems),
		MaxConnsPerIP:   parseInt("PONG_MAX_CONNS_PER_IP", DefaultMaxConnsPerIP, 0, &problems),
		AuthSecret:      strings.TrimSpace(os.Getenv("PONG_AUTH_SECRET")),
		AuthLeeway:      parseDuration("PONG_AUTH_LEEWAY", DefaultAuthLeeway, &problems),
		BackendSecret:   strings.TrimSpace(os.Getenv("PONG_BACKEND_SECRET")),
		SimHostAddress:  getString("PONG_SIMHOST_ADDR", "localhost"+DefaultSimHostAddr),
		MatchmakerAddr:  getString("PONG_MATCHMAKER_ADDR", "localhost"+DefaultMatchmakerAddr),
		LookupTimeout:   parseDuration("PONG_LOOKUP_TIMEOUT", DefaultLookupTimeout, &problems),
		PaddleInterval:  parseDuration("PONG_PADDLE_MIN_INTERVAL", 0, &problems),
		ReconnectDelay:  parseDuration("PONG_RECONNECT_DELAY", DefaultReconnectDelay, &problems),
		TLSCertPath:     strings.TrimSpace(os.Getenv("PONG_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("PONG_TLS_KEY")),
		Logging:         loadLogging("gateway", &problems),
	}

	if raw := strings.TrimSpace(os.Getenv("PONG_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PONG_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}
	if cfg.AuthSecret == "" {
		problems = append(problems, "PONG_AUTH_SECRET must be provided")
	}
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "PONG_TLS_CERT and PONG_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// LoadSimHost reads the simulation host configuration from PONG_* environment variables.
func LoadSimHost() (*SimHostConfig, error) {
	var problems []string
	cfg := &SimHostConfig{
		Address:          getString("PONG_SIMHOST_ADDR", DefaultSimHostAddr),
		OpsAddress:       strings.TrimSpace(os.Getenv("PONG_OPS_ADDR")),
		TickRate:         DefaultTickRate,
		ReplayDir:        strings.TrimSpace(os.Getenv("PONG_REPLAY_DIR")),
		ReplayMaxMatches: parseInt("PONG_REPLAY_MAX_MATCHES", 0, 0, &problems),
		ReplayMaxAge:     parseDuration("PONG_REPLAY_MAX_AGE", 0, &problems),
		AdminToken:       strings.TrimSpace(os.Getenv("PONG_ADMIN_TOKEN")),
		Logging:          loadLogging("simhost", &problems),
	}
	if raw := strings.TrimSpace(os.Getenv("PONG_TICK_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PONG_TICK_RATE must be a positive number, got %q", raw))
		} else {
			cfg.TickRate = value
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// LoadAI reads the controller service configuration from PONG_* environment variables.
func LoadAI() (*AIConfig, error) {
	var problems []string
	cfg := &AIConfig{
		GatewayURL:         getString("PONG_GATEWAY_URL", DefaultGatewayURL),
		OpsAddress:         strings.TrimSpace(os.Getenv("PONG_OPS_ADDR")),
		BackendSecret:      strings.TrimSpace(os.Getenv("PONG_BACKEND_SECRET")),
		DecisionInterval:   parseDuration("PONG_AI_DECISION_INTERVAL", DefaultDecisionInterval, &problems),
		PerceptionInterval: parseDuration("PONG_AI_PERCEPTION_INTERVAL", DefaultPerceptionInterval, &problems),
		ReconnectDelay:     parseDuration("PONG_RECONNECT_DELAY", DefaultReconnectDelay, &problems),
		Logging:            loadLogging("aibot", &problems),
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// LoadMatchmaker reads the coordinator configuration from PONG_* environment variables.
func LoadMatchmaker() (*MatchmakerConfig, error) {
	var problems []string
	cfg := &MatchmakerConfig{
		Address:            getString("PONG_MATCHMAKER_ADDR", DefaultMatchmakerAddr),
		OpsAddress:         strings.TrimSpace(os.Getenv("PONG_OPS_ADDR")),
		SharedSecret:       strings.TrimSpace(os.Getenv("PONG_BACKEND_SECRET")),
		RedisURL:           strings.TrimSpace(os.Getenv("PONG_REDIS_URL")),
		QueueTTL:           parseDuration("PONG_QUEUE_TTL", DefaultQueueTTL, &problems),
		QueueSweepInterval: parseDuration("PONG_QUEUE_SWEEP_INTERVAL", DefaultQueueSweepInterval, &problems),
		Logging:            loadLogging("matchmaker", &problems),
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func loadLogging(service string, problems *[]string) LoggingConfig {
	cfg := LoggingConfig{
		Service:    service,
		Level:      getString("PONG_LOG_LEVEL", DefaultLogLevel),
		Path:       getString("PONG_LOG_PATH", service+".log"),
		MaxSizeMB:  parseInt("PONG_LOG_MAX_SIZE_MB", DefaultLogMaxSizeMB, 1, problems),
		MaxBackups: parseInt("PONG_LOG_MAX_BACKUPS", DefaultLogMaxBackups, 0, problems),
		MaxAgeDays: parseInt("PONG_LOG_MAX_AGE_DAYS", DefaultLogMaxAgeDays, 0, problems),
		Compress:   DefaultLogCompress,
	}
	if raw := strings.TrimSpace(os.Getenv("PONG_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("PONG_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Compress = value
		}
	}
	return cfg
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration, problems *[]string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return duration
}

func parseInt(key string, fallback, minimum int, problems *[]string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minimum {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, minimum, raw))
		return fallback
	}
	return value
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}

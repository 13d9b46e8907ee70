package gateway

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"pongnet/core/internal/input"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/match"
	"pongnet/core/internal/protocol"
)

// Backend service names accepted in registerService frames.
const (
	ServiceAI         = "AI"
	ServiceTournament = "tournament"
)

const (
	defaultMaxConnsPerIP   = 10
	defaultAnnounceRetries = 5
	defaultAnnounceDelay   = 100 * time.Millisecond
	defaultLookupTimeout   = 2 * time.Second
)

// SimHost accepts directives for the simulation host.
type SimHost interface {
	Send(userID, matchID string, d protocol.Directive) error
}

// Matchmaker accepts requests for the matchmaking coordinator.
type Matchmaker interface {
	Send(req protocol.MatchRequest) error
	LookupOpponent(ctx context.Context, userID string) (string, error)
}

// Config wires a Router.
type Config struct {
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxConnsPerIP   int
	BackendSecret   string
	LookupTimeout   time.Duration
	AnnounceRetries int
	AnnounceDelay   time.Duration
	PaddleInterval  time.Duration

	Authenticator Authenticator
	SimHost       SimHost
	Matchmaker    Matchmaker
	Logger        *logging.Logger
}

// Stats summarises the router for the ops surface.
type Stats struct {
	Clients     int    `json:"clients"`
	Backends    int    `json:"backends"`
	Matches     int    `json:"matches"`
	Subscribers int    `json:"subscribers"`
	Rejected    int64  `json:"rejected"`
	Dropped     int64  `json:"dropped"`
	Throttled   uint64 `json:"throttled"`
}

// Router authenticates browser sockets, translates their namespaced frames for the owning
// backend and fans backend output back to the right players.
type Router struct {
	cfg      Config
	log      *logging.Logger
	upgrader websocket.Upgrader
	rosters  *match.Rosters
	paddles  *input.Gate

	mu          sync.RWMutex
	clients     map[string]*client
	pending     map[string]*client
	services    map[string]*client
	perIP       map[string]int
	aiOpponents map[string]string

	rejected atomic.Int64
	dropped  atomic.Int64
}

// NewRouter constructs a router from cfg.
func NewRouter(cfg Config) *Router {
	if cfg.MaxConnsPerIP <= 0 {
		cfg.MaxConnsPerIP = defaultMaxConnsPerIP
	}
	if cfg.AnnounceRetries <= 0 {
		cfg.AnnounceRetries = defaultAnnounceRetries
	}
	if cfg.AnnounceDelay <= 0 {
		cfg.AnnounceDelay = defaultAnnounceDelay
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	r := &Router{
		cfg:         cfg,
		log:         logger,
		rosters:     match.NewRosters(),
		paddles:     input.NewGate(input.Config{MinInterval: cfg.PaddleInterval}, nil),
		clients:     make(map[string]*client),
		pending:     make(map[string]*client),
		services:    make(map[string]*client),
		perIP:       make(map[string]int),
		aiOpponents: make(map[string]string),
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	return r
}

// Rosters exposes the match subscriptions.
func (r *Router) Rosters() *match.Rosters { return r.rosters }

// Stats returns a snapshot of the router.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	stats := Stats{Clients: len(r.clients), Backends: len(r.services)}
	r.mu.RUnlock()
	rosterStats := r.rosters.Stats()
	stats.Matches = rosterStats.Matches
	stats.Subscribers = rosterStats.Subscribers
	stats.Rejected = r.rejected.Load()
	stats.Dropped = r.dropped.Load()
	stats.Throttled = r.paddles.Dropped()
	return stats
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if len(r.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range r.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ip := remoteIP(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", logging.String("remote", ip), logging.Error(err))
		return
	}

	//1.- Enforce the per address cap before any frame is read.
	if !r.admit(ip) {
		r.rejected.Add(1)
		r.log.Warn("connection limit reached", logging.String("remote", ip))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseTooManyConnections, "Too many connections"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := newClient(conn, ip)
	defer r.release(c)
	go c.writePump(r.cfg.PingInterval)
	r.readPump(c)
}

func (r *Router) admit(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.perIP[ip] >= r.cfg.MaxConnsPerIP {
		return false
	}
	r.perIP[ip]++
	return true
}

func (r *Router) readPump(c *client) {
	if r.cfg.MaxPayloadBytes > 0 {
		c.conn.SetReadLimit(r.cfg.MaxPayloadBytes)
	}
	if r.cfg.PingInterval > 0 {
		pongWait := 2 * r.cfg.PingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug("socket read failed", logging.String("remote", c.remote), logging.Error(err))
			}
			return
		}
		r.handleFrame(c, data)
	}
}

func (r *Router) handleFrame(c *client, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		r.log.Warn("dropping undecodable frame", logging.String("remote", c.remote), logging.Error(err))
		return
	}
	if service := c.Service(); service != "" {
		r.handleBackendFrame(c, service, msg, data)
		return
	}

	switch m := msg.(type) {
	case protocol.RegisterService:
		r.registerService(c, m)
		return
	case protocol.Auth:
		r.authenticate(c, m)
		return
	}

	userID := c.UserID()
	if userID == "" {
		r.sendTo(c, protocol.NotAuthenticated())
		return
	}
	switch m := msg.(type) {
	case protocol.GameCommand:
		r.routeGame(userID, m)
	case protocol.MatchmakingCommand:
		r.routeMatchmaking(c, userID, m)
	case protocol.AICommand:
		r.routeAI(userID, m)
	case protocol.TournamentCommand:
		r.routeTournament(userID, m)
	default:
		r.log.Warn("unknown frame type", logging.String("type", msg.MessageType()), logging.String("user_id", userID))
	}
}

func (r *Router) authenticate(c *client, m protocol.Auth) {
	userID := m.UserID.String()
	if r.cfg.Authenticator == nil {
		r.sendTo(c, protocol.Notice{Type: protocol.TypeAuthError, Message: "Invalid token"})
		return
	}
	if err := r.cfg.Authenticator.Authenticate(m.Token, userID); err != nil {
		r.log.Info("authentication rejected", logging.String("remote", c.remote), logging.String("user_id", userID), logging.Error(err))
		r.sendTo(c, protocol.Notice{Type: protocol.TypeAuthError, Message: "Invalid token"})
		return
	}
	c.setUserID(userID)
	r.mu.Lock()
	r.clients[userID] = c
	r.mu.Unlock()
	r.log.Info("client authenticated", logging.String("user_id", userID), logging.String("remote", c.remote))
	r.sendTo(c, protocol.Notice{Type: protocol.TypeAuthSuccess, UserID: userID})
}

func (r *Router) registerService(c *client, m protocol.RegisterService) {
	if secret := r.cfg.BackendSecret; secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(m.Secret)) != 1 {
		r.log.Warn("backend registration rejected", logging.String("service", m.Service), logging.String("remote", c.remote))
		r.sendTo(c, protocol.Notice{Type: protocol.TypeError, Message: "Invalid service secret"})
		return
	}
	switch m.Service {
	case ServiceAI, ServiceTournament:
	default:
		r.log.Warn("unsupported backend service", logging.String("service", m.Service))
		r.sendTo(c, protocol.Notice{Type: protocol.TypeError, Message: "Unsupported service"})
		return
	}
	c.setService(m.Service)
	r.mu.Lock()
	previous := r.services[m.Service]
	r.services[m.Service] = c
	r.mu.Unlock()
	if previous != nil && previous != c {
		previous.close()
	}
	r.log.Info("backend registered", logging.String("service", m.Service), logging.String("remote", c.remote))
}

// release undoes everything a socket registered once it closes.
func (r *Router) release(c *client) {
	c.close()
	userID := c.UserID()
	service := c.Service()

	r.mu.Lock()
	r.perIP[c.remote]--
	if r.perIP[c.remote] <= 0 {
		delete(r.perIP, c.remote)
	}
	if service != "" && r.services[service] == c {
		delete(r.services, service)
	}
	current := userID != "" && r.clients[userID] == c
	if current {
		delete(r.clients, userID)
	}
	if r.pending[userID] == c {
		delete(r.pending, userID)
	}
	r.mu.Unlock()

	if service != "" {
		r.log.Warn("backend disconnected", logging.String("service", service))
		return
	}
	if current {
		r.disconnectUser(userID)
	}
}

// sendTo marshals v and queues it on c.
func (r *Router) sendTo(c *client, v any) bool {
	frame, err := json.Marshal(v)
	if err != nil {
		r.log.Error("failed to encode frame", logging.Error(err))
		return false
	}
	return r.deliver(c, frame)
}

func (r *Router) deliver(c *client, frame []byte) bool {
	if c == nil {
		return false
	}
	if !c.enqueue(frame) {
		r.dropped.Add(1)
		return false
	}
	return true
}

// sinkFor returns the socket that receives frames addressed to userID. Autonomous
// opponents are served by the AI backend.
func (r *Router) sinkFor(userID string) *client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if strings.HasPrefix(userID, protocol.AIUserPrefix) {
		return r.services[ServiceAI]
	}
	return r.clients[userID]
}

func (r *Router) service(name string) *client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

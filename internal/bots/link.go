package bots

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

const (
	// ServiceName is the role the controller announces on the router socket.
	ServiceName = "AI"

	defaultRetryDelay   = time.Second
	defaultWriteTimeout = 5 * time.Second
)

// ErrNotConnected is returned when a move is published while the router link is down.
var ErrNotConnected = errors.New("router link not connected")

// LinkConfig configures the websocket client connecting the controller to the router.
type LinkConfig struct {
	URL          string
	Secret       string
	Controller   *Controller
	Dialer       *websocket.Dialer
	RetryDelay   time.Duration
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// Link keeps one websocket to the router, feeds commands into the controller and
// publishes the bots' paddle moves back.
type Link struct {
	cfg LinkConfig
	log *logging.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewLink validates cfg and returns an unconnected link.
func NewLink(cfg LinkConfig) (*Link, error) {
	if cfg.URL == "" {
		return nil, errors.New("router url must not be empty")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.L()
	}
	return &Link{cfg: cfg, log: log.With(logging.String("router", cfg.URL))}, nil
}

// Bind attaches the controller the link dispatches to.
func (l *Link) Bind(controller *Controller) {
	l.cfg.Controller = controller
}

// Run connects, serves and reconnects until ctx is cancelled. Every bot is stopped
// whenever the connection drops.
func (l *Link) Run(ctx context.Context) error {
	for {
		conn, err := l.dial(ctx)
		if err != nil {
			return err
		}
		l.serve(ctx, conn)
		l.cfg.Controller.StopAll()
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("router link lost, reconnecting")
	}
}

// PaddleMove implements MoveSink.
func (l *Link) PaddleMove(matchID string, y float64) error {
	position := y
	return l.write(protocol.BotMessage{
		Type:     protocol.PrefixGame + protocol.ActionPaddleMove,
		MatchID:  matchID,
		Side:     string(game.SideRight),
		Position: &position,
	})
}

// Release implements MoveSink.
func (l *Link) Release(matchID string) error {
	return l.write(protocol.BotMessage{Type: protocol.BotRelease, MatchID: matchID})
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; ; attempt++ {
		conn, _, err := l.cfg.Dialer.DialContext(ctx, l.cfg.URL, nil) //nolint:bodyclose // handshake body is owned by the dialer
		if err == nil {
			//1.- Announce the role before anything else so the router files the socket as a backend.
			l.writeMu.Lock()
			l.conn = conn
			l.writeMu.Unlock()
			if err := l.write(protocol.RegisterService{Service: ServiceName, Secret: l.cfg.Secret}); err != nil {
				l.detach(conn)
				l.log.Warn("service announcement failed", logging.Error(err))
			} else {
				l.log.Info("router link connected", logging.Int("attempt", attempt))
				return conn, nil
			}
		} else {
			l.log.Debug("router not ready", logging.Int("attempt", attempt), logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "dial router")
		case <-time.After(l.cfg.RetryDelay):
		}
	}
}

func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer l.detach(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.log.Warn("router link read failed", logging.Error(err))
			}
			return
		}
		var msg protocol.BotMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.log.Warn("router frame rejected", logging.Error(err))
			continue
		}
		l.dispatch(ctx, msg)
	}
}

func (l *Link) dispatch(ctx context.Context, msg protocol.BotMessage) {
	controller := l.cfg.Controller
	matchID := msg.MatchID
	if matchID == "" {
		matchID, _ = protocol.AIMatchID(msg.UserID)
	}
	fields := []logging.Field{logging.String("type", msg.Type), logging.String("match_id", matchID)}

	switch msg.Type {
	case protocol.BotStart:
		controller.Start(ctx, matchID, msg.Settings.Options())
	case protocol.BotResume:
		if err := controller.Resume(matchID, msg.Settings.Options()); err != nil {
			l.log.Debug("resume ignored", append(fields, logging.Error(err))...)
		}
	case protocol.BotReset:
		if err := controller.Reset(matchID); err != nil {
			l.log.Debug("reset ignored", append(fields, logging.Error(err))...)
		}
	case protocol.TypeGameState:
		if msg.Payload == nil {
			return
		}
		state := *msg.Payload
		if state.MatchID == "" {
			state.MatchID = matchID
		}
		controller.Observe(state)
	case protocol.BotDisconnect:
		controller.Stop(matchID)
	case protocol.TypeError, protocol.TypeAuthSuccess:
	default:
		l.log.Warn("unknown router frame", fields...)
	}
}

func (l *Link) write(v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err := l.conn.WriteJSON(v); err != nil {
		return eris.Wrap(err, "write router frame")
	}
	return nil
}

func (l *Link) detach(conn *websocket.Conn) {
	l.writeMu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.writeMu.Unlock()
	_ = conn.Close()
}

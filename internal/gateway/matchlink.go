package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"

	"pongnet/core/internal/grpc"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

var (
	// ErrLookupTimeout is returned when the coordinator does not answer a lookup in time.
	ErrLookupTimeout = errors.New("opponent lookup timed out")
	// ErrNoOpponent is returned when the coordinator reports no active match for a user.
	ErrNoOpponent = errors.New("no opponent")
)

// MatchLink keeps one gRPC stream to the matchmaking coordinator and correlates
// opponent lookups with their replies by user id.
type MatchLink struct {
	addr     string
	retry    time.Duration
	timeout  time.Duration
	dialOpts []gogrpc.DialOption
	log      *logging.Logger

	handler func(protocol.MatchEvent)

	mu     sync.Mutex
	stream grpc.ClientStream

	waitMu  sync.Mutex
	waiters map[string][]chan protocol.MatchEvent
}

// MatchLinkConfig configures a MatchLink.
type MatchLinkConfig struct {
	Address       string
	Secret        string
	LookupTimeout time.Duration
	RetryDelay    time.Duration
	DialOptions   []gogrpc.DialOption
	Logger        *logging.Logger
}

// NewMatchLink constructs an unconnected link.
func NewMatchLink(cfg MatchLinkConfig) *MatchLink {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	opts := []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithSharedSecret(cfg.Secret),
		gogrpc.WithDefaultCallOptions(gogrpc.UseCompressor(gzip.Name)),
	}
	return &MatchLink{
		addr:     cfg.Address,
		retry:    cfg.RetryDelay,
		timeout:  cfg.LookupTimeout,
		dialOpts: append(opts, cfg.DialOptions...),
		log:      logger.With(logging.String("matchmaker", cfg.Address)),
		waiters:  make(map[string][]chan protocol.MatchEvent),
	}
}

// Bind sets the callback receiving every event that no lookup claimed.
func (l *MatchLink) Bind(handler func(protocol.MatchEvent)) {
	l.handler = handler
}

// Connected reports whether a stream is open.
func (l *MatchLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream != nil
}

// Run opens the stream and reopens it whenever it breaks, until ctx is cancelled.
func (l *MatchLink) Run(ctx context.Context) error {
	conn, err := gogrpc.NewClient(l.addr, l.dialOpts...)
	if err != nil {
		return eris.Wrapf(err, "matchmaker client for %s", l.addr)
	}
	defer conn.Close()
	client := grpc.NewLinkClient(conn)

	for {
		stream, err := client.Exchange(ctx)
		if err != nil {
			l.log.Debug("matchmaker not ready", logging.Error(err))
		} else {
			l.log.Info("matchmaker link opened")
			l.attach(stream)
			l.read(stream)
			l.detach(stream)
			if ctx.Err() == nil {
				l.log.Warn("matchmaker link lost, reopening")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

// Send forwards one request to the coordinator.
func (l *MatchLink) Send(req protocol.MatchRequest) error {
	msg, err := grpc.Encode(req)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stream == nil {
		return ErrBackendUnavailable
	}
	if err := l.stream.Send(msg); err != nil {
		return eris.Wrapf(err, "send %s", req.Type)
	}
	return nil
}

// LookupOpponent asks the coordinator for the opponent of userID and waits for the
// correlated reply.
func (l *MatchLink) LookupOpponent(ctx context.Context, userID string) (string, error) {
	reply := make(chan protocol.MatchEvent, 1)
	l.waitMu.Lock()
	l.waiters[userID] = append(l.waiters[userID], reply)
	l.waitMu.Unlock()
	defer l.forget(userID, reply)

	if err := l.Send(protocol.MatchRequest{Type: protocol.MatchGetOpponent, UserID: userID}); err != nil {
		return "", err
	}
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case event := <-reply:
		if event.Type == protocol.EventOpponentError {
			return "", eris.Wrapf(ErrNoOpponent, "%s: %s", userID, event.Message)
		}
		return event.OpponentID, nil
	case <-timer.C:
		return "", eris.Wrapf(ErrLookupTimeout, "user %s", userID)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *MatchLink) read(stream grpc.ClientStream) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return
		}
		var event protocol.MatchEvent
		if err := grpc.Decode(msg, &event); err != nil {
			l.log.Warn("discarding malformed event", logging.Error(err))
			continue
		}
		if l.claim(event) {
			continue
		}
		if l.handler != nil {
			l.handler(event)
		}
	}
}

// claim hands lookup replies to their waiters and reports whether any waited.
func (l *MatchLink) claim(event protocol.MatchEvent) bool {
	if event.Type != protocol.EventOpponentID && event.Type != protocol.EventOpponentError {
		return false
	}
	l.waitMu.Lock()
	waiting := l.waiters[event.UserID]
	delete(l.waiters, event.UserID)
	l.waitMu.Unlock()
	for _, reply := range waiting {
		reply <- event
	}
	return len(waiting) > 0
}

func (l *MatchLink) forget(userID string, reply chan protocol.MatchEvent) {
	l.waitMu.Lock()
	defer l.waitMu.Unlock()
	waiting := l.waiters[userID]
	for i, candidate := range waiting {
		if candidate == reply {
			waiting = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(l.waiters, userID)
	} else {
		l.waiters[userID] = waiting
	}
}

func (l *MatchLink) attach(stream grpc.ClientStream) {
	l.mu.Lock()
	l.stream = stream
	l.mu.Unlock()
}

func (l *MatchLink) detach(stream grpc.ClientStream) {
	l.mu.Lock()
	if l.stream == stream {
		l.stream = nil
	}
	l.mu.Unlock()
}

package gateway

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"pongnet/core/internal/game"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

// ErrBackendUnavailable is returned when a frame targets a backend that is not connected.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrInvalidIdentifier rejects user or match ids that cannot travel as one line field.
var ErrInvalidIdentifier = errors.New("identifier not usable on the line protocol")

const maxStateLineBytes = 4096

// SimLink keeps one TCP connection to the simulation host. Every directive is preceded
// by the SET_USER line naming the user and match it applies to.
type SimLink struct {
	addr  string
	retry time.Duration
	log   *logging.Logger

	handler func(game.State)

	mu   sync.Mutex
	conn net.Conn
}

// NewSimLink constructs an unconnected link to addr.
func NewSimLink(addr string, retry time.Duration, logger *logging.Logger) *SimLink {
	if retry <= 0 {
		retry = time.Second
	}
	if logger == nil {
		logger = logging.L()
	}
	return &SimLink{addr: addr, retry: retry, log: logger.With(logging.String("simhost", addr))}
}

// Bind sets the callback receiving every decoded state line.
func (l *SimLink) Bind(handler func(game.State)) {
	l.handler = handler
}

// Connected reports whether the link currently holds a connection.
func (l *SimLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send writes the user binding followed by d.
func (l *SimLink) Send(userID, matchID string, d protocol.Directive) error {
	if !protocol.ValidIdentifier(userID) || !protocol.ValidIdentifier(matchID) {
		return eris.Wrapf(ErrInvalidIdentifier, "user %q match %q", userID, matchID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrBackendUnavailable
	}
	payload := protocol.SetUser(userID, matchID).String() + "\n" + d.String() + "\n"
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if _, err := l.conn.Write([]byte(payload)); err != nil {
		_ = l.conn.Close()
		return eris.Wrapf(err, "send %s for match %s", d.Command, matchID)
	}
	return nil
}

// Run dials, reads and redials until ctx is cancelled.
func (l *SimLink) Run(ctx context.Context) error {
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			l.log.Debug("simulation host not ready", logging.Error(err))
		} else {
			l.log.Info("simulation host connected")
			l.attach(conn)
			l.read(ctx, conn)
			l.detach(conn)
			if ctx.Err() == nil {
				l.log.Warn("simulation host link lost, reconnecting")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *SimLink) read(ctx context.Context, conn net.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), maxStateLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !protocol.IsStateLine(line) {
			if line != "" {
				l.log.Debug("ignoring host line", logging.String("line", line))
			}
			continue
		}
		state, err := protocol.DecodeState(line)
		if err != nil {
			l.log.Warn("discarding malformed state", logging.Error(err))
			continue
		}
		if l.handler != nil {
			l.handler(state)
		}
	}
}

func (l *SimLink) attach(conn net.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *SimLink) detach(conn net.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	_ = conn.Close()
}

package simhost

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

const (
	// DefaultOutboxDepth is the number of state lines buffered per link.
	DefaultOutboxDepth = 1024
	// maxLineBytes bounds a single inbound directive.
	maxLineBytes = 4096
	writeTimeout = 5 * time.Second
)

// ServerStats summarises the live state of the line server.
type ServerStats struct {
	Links   int
	Matches int
	Dropped int64
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithOutboxDepth overrides the per link buffer size.
func WithOutboxDepth(depth int) ServerOption {
	return func(s *Server) {
		if depth > 0 {
			s.outboxDepth = depth
		}
	}
}

// WithRegistryOptions forwards options to the registry the server owns.
func WithRegistryOptions(opts ...Option) ServerOption {
	return func(s *Server) { s.registryOpts = append(s.registryOpts, opts...) }
}

// WithServerLogger overrides the server logger.
func WithServerLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Server accepts multiplexed gateway links speaking the line protocol and fans every
// match's state lines out to the links that bound a user of that match.
type Server struct {
	log          *logging.Logger
	registry     *Registry
	registryOpts []Option
	outboxDepth  int

	mu          sync.Mutex
	links       map[*link]struct{}
	subscribers map[string]map[*link]struct{}
	dropped     atomic.Int64

	matchCtx context.Context
	wg       sync.WaitGroup
}

// NewServer constructs a server and the registry it publishes from.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		log:         logging.L(),
		outboxDepth: DefaultOutboxDepth,
		links:       make(map[*link]struct{}),
		subscribers: make(map[string]map[*link]struct{}),
		matchCtx:    context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	registryOpts := append([]Option{WithLogger(s.log)}, s.registryOpts...)
	s.registry = NewRegistry(s, registryOpts...)
	return s
}

// Registry exposes the match registry backing the server.
func (s *Server) Registry() *Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// ListenAndServe binds addr and serves links until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts links on ln until ctx is cancelled. Matches keep running while ctx is
// alive and are stopped when Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.matchCtx = ctx
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	s.log.Info("simulation host listening", logging.String("address", ln.Addr().String()))

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = eris.Wrap(err, "accept link")
			}
			break
		}
		l := s.newLink(conn)
		s.wg.Add(2)
		go s.writeLoop(l)
		go s.readLoop(ctx, l)
	}

	//1.- Close every link so the reader goroutines unblock, then stop the matches.
	s.mu.Lock()
	for l := range s.links {
		l.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.registry.Close()
	return serveErr
}

// Broadcast queues a state line on every link subscribed to the match. A full outbox
// drops the line for that link only.
func (s *Server) Broadcast(matchID, line string) {
	s.mu.Lock()
	targets := make([]*link, 0, len(s.subscribers[matchID]))
	for l := range s.subscribers[matchID] {
		targets = append(targets, l)
	}
	s.mu.Unlock()
	for _, l := range targets {
		if !l.enqueue(line) {
			s.dropped.Add(1)
			s.log.Warn("state line dropped for slow link",
				logging.String("match_id", matchID),
				logging.String("remote", l.remote),
			)
		}
	}
}

// Finished forgets the subscribers of a match that just ended.
func (s *Server) Finished(matchID string) {
	s.mu.Lock()
	subs := s.subscribers[matchID]
	delete(s.subscribers, matchID)
	for l := range subs {
		delete(l.matches, matchID)
	}
	s.mu.Unlock()
}

// Stats reports link, match and drop counters.
func (s *Server) Stats() ServerStats {
	if s == nil {
		return ServerStats{}
	}
	s.mu.Lock()
	links := len(s.links)
	s.mu.Unlock()
	return ServerStats{Links: links, Matches: s.registry.Count(), Dropped: s.dropped.Load()}
}

func (s *Server) subscribe(l *link, matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscribers[matchID]
	if subs == nil {
		subs = make(map[*link]struct{})
		s.subscribers[matchID] = subs
	}
	subs[l] = struct{}{}
	l.matches[matchID] = struct{}{}
}

func (s *Server) dropLink(l *link) {
	s.mu.Lock()
	delete(s.links, l)
	for matchID := range l.matches {
		if subs := s.subscribers[matchID]; subs != nil {
			delete(subs, l)
			if len(subs) == 0 {
				delete(s.subscribers, matchID)
			}
		}
	}
	s.mu.Unlock()
	l.close()
}

func (s *Server) readLoop(ctx context.Context, l *link) {
	defer s.wg.Done()
	defer s.dropLink(l)
	log := s.log.With(logging.String("remote", l.remote))
	log.Info("gateway link connected")

	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 512), maxLineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		d, err := protocol.ParseDirective(scanner.Text())
		if err != nil {
			if !errors.Is(err, protocol.ErrEmptyLine) {
				log.Warn("directive rejected", logging.Error(err))
			}
			//1.- A broken binding must not leave the previous match bound to what follows.
			if d.Command == protocol.CmdSetUser {
				l.userID, l.matchID = "", ""
			}
			continue
		}
		s.handle(l, d, log)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("gateway link read failed", logging.Error(err))
	}
	log.Info("gateway link closed")
}

func (s *Server) handle(l *link, d protocol.Directive, log *logging.Logger) {
	//1.- SET_USER rebinds the link context; everything else acts on the bound match.
	if d.Command == protocol.CmdSetUser {
		l.userID, l.matchID = d.UserID, d.MatchID
		s.subscribe(l, d.MatchID)
		return
	}
	if l.matchID == "" {
		log.Warn("directive without bound match", logging.String("command", d.Command))
		return
	}
	fields := []logging.Field{
		logging.String("command", d.Command),
		logging.String("match_id", l.matchID),
		logging.String("user_id", l.userID),
	}

	var err error
	switch d.Command {
	case protocol.CmdStart:
		if !s.registry.Start(s.matchCtx, l.matchID, d.Options) {
			log.Debug("start joined live match", fields...)
		}
	case protocol.CmdResume:
		err = s.registry.Resume(l.matchID, d.Options)
	case protocol.CmdUpdatePaddle:
		err = s.registry.UpdatePaddle(l.matchID, d.Side, d.Position)
		if eris.Is(err, ErrMatchPaused) {
			return
		}
	case protocol.CmdGetState:
		state, stateErr := s.registry.State(l.matchID)
		if stateErr == nil && !l.enqueue(protocol.EncodeState(state)) {
			s.dropped.Add(1)
		}
		err = stateErr
	case protocol.CmdDisconnect:
		err = s.registry.Disconnect(l.matchID)
	}
	if err != nil {
		log.Warn("directive failed", append(fields, logging.Error(err))...)
	}
}

func (s *Server) writeLoop(l *link) {
	defer s.wg.Done()
	writer := bufio.NewWriter(l.conn)
	for {
		select {
		case <-l.done:
			return
		case line := <-l.outbox:
			//1.- Coalesce whatever is already queued into a single flush.
			if !l.write(writer, line) {
				return
			}
			for pending := len(l.outbox); pending > 0; pending-- {
				if !l.write(writer, <-l.outbox) {
					return
				}
			}
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := writer.Flush(); err != nil {
				s.log.Warn("gateway link write failed", logging.String("remote", l.remote), logging.Error(err))
				l.close()
				return
			}
		}
	}
}

func (s *Server) newLink(conn net.Conn) *link {
	l := &link{
		conn:    conn,
		remote:  conn.RemoteAddr().String(),
		outbox:  make(chan string, s.outboxDepth),
		done:    make(chan struct{}),
		matches: make(map[string]struct{}),
	}
	s.mu.Lock()
	s.links[l] = struct{}{}
	s.mu.Unlock()
	return l
}

// link is one multiplexed gateway connection. userID and matchID are only touched by
// the reader goroutine; matches is guarded by the server mutex.
type link struct {
	conn      net.Conn
	remote    string
	outbox    chan string
	done      chan struct{}
	closeOnce sync.Once

	userID  string
	matchID string
	matches map[string]struct{}
}

func (l *link) enqueue(line string) bool {
	select {
	case <-l.done:
		return true
	default:
	}
	select {
	case l.outbox <- line:
		return true
	default:
		return false
	}
}

func (l *link) write(w *bufio.Writer, line string) bool {
	if _, err := w.WriteString(line); err != nil {
		l.close()
		return false
	}
	if err := w.WriteByte('\n'); err != nil {
		l.close()
		return false
	}
	return true
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

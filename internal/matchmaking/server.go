package matchmaking

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pongnet/core/internal/grpc"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

// Handle executes one gateway request and returns the events to send back. Failures
// that the gateway can surface become error events; everything else is logged.
func (c *Coordinator) Handle(ctx context.Context, req protocol.MatchRequest) []protocol.MatchEvent {
	log := c.log.With(logging.String("request", req.Type), logging.String("user_id", req.UserID))

	switch req.Type {
	case protocol.MatchInitSolo:
		event, err := c.CreateSoloMatch(ctx, req.UserID, req.Mode)
		if err != nil {
			log.Warn("solo match rejected", logging.Error(err))
			return nil
		}
		return []protocol.MatchEvent{event}

	case protocol.MatchJoin:
		event, err := c.JoinQueue(ctx, req.UserID)
		if err != nil {
			log.Warn("queue join rejected", logging.Error(err))
			return nil
		}
		return optional(event)

	case protocol.MatchJoinTournament:
		event, err := c.JoinTournament(ctx, req.UserID, req.OpponentID)
		if err != nil {
			log.Warn("tournament join rejected", logging.Error(err))
			return nil
		}
		return optional(event)

	case protocol.MatchGetNames:
		names, err := c.GetNames(ctx, req.MatchID)
		if err != nil {
			message := "Internal error"
			if eris.Is(err, ErrUnknownMatch) {
				message = "Match not found"
			} else {
				log.Error("name lookup failed", logging.Error(err))
			}
			return []protocol.MatchEvent{{Type: protocol.EventPlayerNamesError, MatchID: req.MatchID, UserID: req.UserID, Message: message}}
		}
		return []protocol.MatchEvent{{
			Type:      protocol.EventPlayerNames,
			MatchID:   names.MatchID,
			UserID:    req.UserID,
			Player1:   names.Player1,
			Player2:   names.Player2,
			Player1ID: names.Player1ID,
			Player2ID: names.Player2ID,
		}}

	case protocol.MatchGetOpponent:
		opponent, err := c.GetOpponent(ctx, req.UserID)
		if err != nil {
			message := "Internal error"
			if eris.Is(err, ErrNoActiveMatch) {
				message = "No active match found"
			} else {
				log.Error("opponent lookup failed", logging.Error(err))
			}
			return []protocol.MatchEvent{{Type: protocol.EventOpponentError, UserID: req.UserID, Message: message}}
		}
		return []protocol.MatchEvent{{Type: protocol.EventOpponentID, UserID: req.UserID, OpponentID: opponent}}

	case protocol.MatchIsForfeit:
		matchStatus, err := c.GetMatchStatus(ctx, req.MatchID)
		if err != nil && !eris.Is(err, ErrUnknownMatch) {
			log.Error("status lookup failed", logging.Error(err))
		}
		forfeit := matchStatus == StatusForfeit
		return []protocol.MatchEvent{{Type: protocol.EventForfeitStatus, MatchID: req.MatchID, UserID: req.UserID, IsForfeit: &forfeit}}

	case protocol.MatchDisconnect:
		if _, err := c.ReportForfeit(ctx, req.UserID); err != nil {
			log.Error("forfeit failed", logging.Error(err))
		}
		return nil

	case protocol.MatchEnd:
		_, err := c.EndMatch(ctx, req.MatchID, Result{
			WinnerID:    req.WinnerID,
			LoserID:     req.LoserID,
			WinnerScore: req.WinnerScore,
			LoserScore:  req.LoserScore,
		})
		if err != nil {
			log.Error("end match failed", logging.Error(err))
		}
		return nil

	default:
		log.Warn("unknown matchmaking request")
		return nil
	}
}

func optional(event *protocol.MatchEvent) []protocol.MatchEvent {
	if event == nil {
		return nil
	}
	return []protocol.MatchEvent{*event}
}

// Server exposes a Coordinator over the gRPC link.
type Server struct {
	coordinator *Coordinator
	log         *logging.Logger
	streams     atomic.Int64
	requests    atomic.Int64
}

// ServerStats reports link activity.
type ServerStats struct {
	Streams  int64
	Requests int64
}

// NewServer binds coordinator to the link service.
func NewServer(coordinator *Coordinator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.L()
	}
	return &Server{coordinator: coordinator, log: logger}
}

// Exchange implements grpc.LinkServer. Requests are handled in arrival order and every
// resulting event is written back on the same stream.
func (s *Server) Exchange(stream grpc.ServerStream) error {
	s.streams.Add(1)
	defer s.streams.Add(-1)
	ctx := stream.Context()
	s.log.Info("gateway link opened")
	defer s.log.Info("gateway link closed")

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return err
		}
		var req protocol.MatchRequest
		if err := grpc.Decode(msg, &req); err != nil {
			s.log.Warn("dropping malformed request", logging.Error(err))
			continue
		}
		s.requests.Add(1)
		for _, event := range s.coordinator.Handle(ctx, req) {
			out, err := grpc.Encode(event)
			if err != nil {
				s.log.Error("failed to encode event", logging.String("type", event.Type), logging.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return eris.Wrapf(err, "send %s", event.Type)
			}
		}
	}
}

// Stats returns a snapshot of link activity.
func (s *Server) Stats() ServerStats {
	return ServerStats{Streams: s.streams.Load(), Requests: s.requests.Load()}
}

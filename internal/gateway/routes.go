package gateway

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"pongnet/core/internal/game"
	"pongnet/core/internal/input"
	"pongnet/core/internal/logging"
	"pongnet/core/internal/protocol"
)

const (
	connectionErrorMessage = "Could not establish the websocket connection for the match."
	tournamentDisconnect   = "DISCONNECT"
)

// routeGame subscribes userID to the named match and forwards the command to the
// simulation host as a line directive.
func (r *Router) routeGame(userID string, cmd protocol.GameCommand) {
	matchID := strings.TrimSpace(cmd.MatchID)
	log := r.log.With(logging.String("user_id", userID), logging.String("match_id", matchID), logging.String("action", cmd.Action))

	//1.- A disconnect without a match id releases every match the user follows.
	if cmd.Action == protocol.ActionDisconnect && matchID == "" {
		for _, subscribed := range r.rosters.MatchesOf(userID) {
			r.forwardGame(userID, subscribed, protocol.Disconnect())
			r.rosters.Unsubscribe(subscribed, userID)
		}
		return
	}
	if matchID == "" {
		log.Warn("game frame without match id")
		return
	}
	if !protocol.ValidIdentifier(matchID) {
		log.Warn("game frame with unusable match id")
		return
	}
	if _, err := r.rosters.Subscribe(matchID, userID); err != nil {
		log.Warn("subscription rejected", logging.Error(err))
	}

	//2.- Translate the action into its directive.
	var directive protocol.Directive
	switch cmd.Action {
	case protocol.ActionStart:
		directive = protocol.Start(cmd.Settings.Options())
	case protocol.ActionResume:
		directive = protocol.Resume(cmd.Settings.Options())
	case protocol.ActionPaddleMove:
		side, ok := game.ParseSide(cmd.Side)
		position, hasPosition := cmd.PaddlePosition()
		if !ok || !hasPosition {
			log.Warn("paddle move without side or position")
			return
		}
		if !r.paddles.Allow(input.Key{UserID: userID, MatchID: matchID}) {
			return
		}
		directive = protocol.UpdatePaddle(side, position)
	case protocol.ActionGetState:
		directive = protocol.GetState()
	case protocol.ActionDisconnect:
		directive = protocol.Disconnect()
		defer r.rosters.Unsubscribe(matchID, userID)
	default:
		log.Warn("unknown game action")
		return
	}
	r.forwardGame(userID, matchID, directive)
}

func (r *Router) forwardGame(userID, matchID string, directive protocol.Directive) {
	if r.cfg.SimHost == nil {
		r.log.Warn("simulation host unavailable, dropping directive", logging.String("match_id", matchID), logging.String("command", directive.Command))
		return
	}
	if err := r.cfg.SimHost.Send(userID, matchID, directive); err != nil {
		r.log.Warn("simulation host unavailable, dropping directive",
			logging.String("match_id", matchID),
			logging.String("command", directive.Command),
			logging.Error(err),
		)
	}
}

// routeMatchmaking remembers the socket for the coming announcement and forwards the
// request with the authenticated user injected.
func (r *Router) routeMatchmaking(c *client, userID string, cmd protocol.MatchmakingCommand) {
	r.mu.Lock()
	r.pending[userID] = c
	r.mu.Unlock()
	r.forwardMatch(protocol.RequestFromCommand(userID, cmd))
}

func (r *Router) forwardMatch(req protocol.MatchRequest) {
	if r.cfg.Matchmaker == nil {
		r.log.Warn("matchmaker unavailable, dropping request", logging.String("type", req.Type))
		return
	}
	if err := r.cfg.Matchmaker.Send(req); err != nil {
		r.log.Warn("matchmaker unavailable, dropping request", logging.String("type", req.Type), logging.Error(err))
	}
}

// routeAI resolves the autonomous opponent of userID and hands the command to the AI
// backend on its behalf.
func (r *Router) routeAI(userID string, cmd protocol.AICommand) {
	log := r.log.With(logging.String("user_id", userID), logging.String("action", cmd.Action))
	requested := strings.TrimSpace(cmd.MatchID)
	if requested != "" && !protocol.ValidIdentifier(requested) {
		log.Warn("AI frame with unusable match id")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LookupTimeout)
	defer cancel()
	aiUserID, matchID, err := r.resolveAI(ctx, userID, requested)
	if err != nil {
		log.Warn("autonomous opponent not resolved", logging.Error(err))
		return
	}
	ai := r.service(ServiceAI)
	if ai == nil {
		log.Warn("AI backend unavailable, dropping command", logging.String("match_id", matchID))
		return
	}
	if _, err := r.rosters.Subscribe(matchID, aiUserID); err != nil {
		log.Warn("subscription rejected", logging.Error(err))
	}
	r.sendTo(ai, protocol.BotMessage{Type: cmd.Action, MatchID: matchID, UserID: aiUserID, Settings: cmd.Settings})
}

func (r *Router) resolveAI(ctx context.Context, userID, matchID string) (string, string, error) {
	if matchID != "" {
		r.mu.RLock()
		cached, ok := r.aiOpponents[matchID]
		r.mu.RUnlock()
		if ok {
			return cached, matchID, nil
		}
	}
	if r.cfg.Matchmaker == nil {
		return "", "", ErrBackendUnavailable
	}
	opponent, err := r.cfg.Matchmaker.LookupOpponent(ctx, userID)
	if err != nil {
		return "", "", err
	}
	opponentMatch, ok := protocol.AIMatchID(opponent)
	if !ok {
		return "", "", eris.Errorf("opponent %q is not autonomous", opponent)
	}
	if matchID == "" {
		matchID = opponentMatch
	}
	r.mu.Lock()
	r.aiOpponents[matchID] = opponent
	r.mu.Unlock()
	return opponent, matchID, nil
}

// routeTournament forwards a tournament frame with the authenticated user injected.
func (r *Router) routeTournament(userID string, cmd protocol.TournamentCommand) {
	tournament := r.service(ServiceTournament)
	if tournament == nil {
		r.log.Warn("tournament backend unavailable, dropping frame", logging.String("action", cmd.Action), logging.String("user_id", userID))
		return
	}
	frame := make(map[string]any, len(cmd.Fields)+2)
	for key, value := range cmd.Fields {
		frame[key] = value
	}
	frame["type"] = cmd.Action
	frame["userId"] = userID
	r.sendTo(tournament, frame)
}

func (r *Router) handleBackendFrame(c *client, service string, msg protocol.Message, data []byte) {
	switch service {
	case ServiceAI:
		r.handleAIFrame(msg, data)
	case ServiceTournament:
		r.handleTournamentFrame(data)
	default:
		r.log.Warn("frame from unknown backend", logging.String("service", service), logging.String("remote", c.remote))
	}
}

// handleAIFrame treats game frames as coming from the synthetic opponent of their match.
func (r *Router) handleAIFrame(msg protocol.Message, data []byte) {
	if cmd, ok := msg.(protocol.GameCommand); ok {
		if cmd.MatchID == "" {
			r.log.Warn("AI game frame without match id", logging.String("action", cmd.Action))
			return
		}
		r.routeGame(protocol.AIUserID(cmd.MatchID), cmd)
		return
	}
	var bot protocol.BotMessage
	if err := json.Unmarshal(data, &bot); err != nil {
		r.log.Warn("dropping AI frame", logging.Error(err))
		return
	}
	if bot.Type == protocol.BotRelease && bot.MatchID != "" {
		r.releaseAI(bot.MatchID)
		return
	}
	r.log.Debug("ignoring AI frame", logging.String("type", bot.Type), logging.String("match_id", bot.MatchID))
}

func (r *Router) releaseAI(matchID string) {
	r.mu.Lock()
	delete(r.aiOpponents, matchID)
	r.mu.Unlock()
	r.rosters.Unsubscribe(matchID, protocol.AIUserID(matchID))
	r.log.Info("autonomous opponent released", logging.String("match_id", matchID))
}

// handleTournamentFrame delivers addressed replies to their user and broadcasts the rest.
func (r *Router) handleTournamentFrame(data []byte) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		r.log.Warn("dropping tournament frame", logging.Error(err))
		return
	}
	if target := idString(fields["userId"]); target != "" {
		if c := r.sinkFor(target); c != nil {
			r.deliver(c, data)
		} else {
			r.log.Debug("tournament reply for absent user", logging.String("user_id", target))
		}
		return
	}
	r.mu.RLock()
	recipients := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()
	for _, c := range recipients {
		r.deliver(c, data)
	}
}

// disconnectUser runs the cleanup a closed player socket owes every backend.
func (r *Router) disconnectUser(userID string) {
	r.forwardMatch(protocol.MatchRequest{Type: protocol.MatchDisconnect, UserID: userID})

	matches := r.rosters.DropUser(userID)
	r.paddles.Forget(userID)
	for _, matchID := range matches {
		r.forwardGame(userID, matchID, protocol.Disconnect())
		r.detachAI(matchID)
	}
	if tournament := r.service(ServiceTournament); tournament != nil {
		r.sendTo(tournament, map[string]string{"type": tournamentDisconnect, "userId": userID})
	}
	r.log.Info("client disconnected", logging.String("user_id", userID), logging.Strings("matches", matches))
}

// OnState fans one snapshot out to every subscriber of its match, in arrival order.
func (r *Router) OnState(state game.State) {
	matchID := state.MatchID
	frame, err := json.Marshal(protocol.NewStatePush(state))
	if err != nil {
		r.log.Error("failed to encode state", logging.String("match_id", matchID), logging.Error(err))
		return
	}
	for _, userID := range r.rosters.Subscribers(matchID) {
		sink := r.sinkFor(userID)
		if sink == nil || !r.deliver(sink, frame) {
			r.log.Debug("pruning unreachable subscriber", logging.String("match_id", matchID), logging.String("user_id", userID))
			r.rosters.Unsubscribe(matchID, userID)
		}
	}
	if state.IsGameOver {
		r.rosters.DropMatch(matchID)
		r.detachAI(matchID)
	}
}

// detachAI forgets the autonomous opponent of matchID and stops its bot.
func (r *Router) detachAI(matchID string) {
	r.mu.Lock()
	_, attached := r.aiOpponents[matchID]
	delete(r.aiOpponents, matchID)
	r.mu.Unlock()
	if !attached {
		return
	}
	if ai := r.service(ServiceAI); ai != nil {
		r.sendTo(ai, protocol.BotMessage{Type: protocol.BotDisconnect, MatchID: matchID})
	}
}

// OnMatchEvent routes one coordinator event to the players it concerns.
func (r *Router) OnMatchEvent(event protocol.MatchEvent) {
	if event.IsAnnouncement() {
		r.announce(event)
		return
	}
	switch event.Type {
	case protocol.EventPlayerNames, protocol.EventPlayerNamesError, protocol.EventOpponentID, protocol.EventOpponentError:
		r.deliverEvent(event, event.UserID, event.Player1ID, event.Player2ID)
	case protocol.EventForfeitStatus:
		recipients := append(r.rosters.Players(event.MatchID), r.rosters.Subscribers(event.MatchID)...)
		r.deliverEvent(event, append(recipients, event.UserID)...)
	default:
		r.log.Warn("unknown matchmaking event", logging.String("type", event.Type))
	}
}

func (r *Router) deliverEvent(event protocol.MatchEvent, recipients ...string) {
	seen := make(map[string]struct{}, len(recipients))
	for _, userID := range recipients {
		if !isHuman(userID) {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if c := r.sinkFor(userID); c != nil {
			r.sendTo(c, event)
		}
	}
}

func (r *Router) announce(event protocol.MatchEvent) {
	players := make([]string, 0, len(event.Players))
	for _, player := range event.Players {
		players = append(players, player.UserID)
	}
	r.rosters.SetPlayers(event.MatchID, players...)
	for _, player := range event.Players {
		if isHuman(player.UserID) {
			go r.announceTo(event, player)
		}
	}
}

// announceTo waits briefly for the player's matchmaking socket and sends its view of the
// announcement. A player whose socket never shows up is told so and disconnected.
func (r *Router) announceTo(event protocol.MatchEvent, player protocol.Player) {
	for attempt := 1; attempt <= r.cfg.AnnounceRetries; attempt++ {
		r.mu.RLock()
		c := r.pending[player.UserID]
		r.mu.RUnlock()
		if c != nil && !c.closed() && r.sendTo(c, protocol.MatchFoundFor(event, player)) {
			r.mu.Lock()
			if r.pending[player.UserID] == c {
				delete(r.pending, player.UserID)
			}
			r.mu.Unlock()
			return
		}
		time.Sleep(r.cfg.AnnounceDelay)
	}

	r.log.Warn("matched player socket not found",
		logging.String("match_id", event.MatchID),
		logging.String("user_id", player.UserID),
		logging.Int("attempts", r.cfg.AnnounceRetries),
	)
	if c := r.sinkFor(player.UserID); c != nil {
		r.sendTo(c, protocol.Notice{Type: protocol.EventConnectionError, UserID: player.UserID, Message: connectionErrorMessage})
		c.closeAfterQueued(CloseMatchmakingFailure, "Connection failed during matchmaking")
	}
}

func isHuman(userID string) bool {
	return userID != "" && userID != protocol.LocalPlayerID && !strings.HasPrefix(userID, protocol.AIUserPrefix)
}

func idString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

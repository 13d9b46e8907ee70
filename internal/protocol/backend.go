package protocol

import "pongnet/core/internal/game"

// Commands understood by the autonomous controller link.
const (
	BotStart      = "START"
	BotResume     = "RESUME"
	BotReset      = "RESET"
	BotDisconnect = "DISCONNECT"
	// BotRelease is sent by the controller once a bot finished its match.
	BotRelease = "disconnect"
)

// AIUserPrefix marks the synthetic user id of an autonomous opponent.
const AIUserPrefix = "AI-"

// LocalPlayerID is the shared id of the second player of a local solo match.
const LocalPlayerID = "Player2"

// AIUserID returns the synthetic opponent id for a match.
func AIUserID(matchID string) string { return AIUserPrefix + matchID }

// AIMatchID extracts the match id from a synthetic opponent id.
func AIMatchID(userID string) (string, bool) {
	if len(userID) <= len(AIUserPrefix) || userID[:len(AIUserPrefix)] != AIUserPrefix {
		return "", false
	}
	return userID[len(AIUserPrefix):], true
}

// BotMessage travels in both directions on the controller link.
type BotMessage struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Settings
	Side     string      `json:"side,omitempty"`
	Position *float64    `json:"position,omitempty"`
	Payload  *game.State `json:"payload,omitempty"`
}

// Matchmaking request types sent by the gateway.
const (
	MatchInitSolo       = "INIT_SOLO"
	MatchJoin           = "JOIN_MATCH"
	MatchJoinTournament = "JOIN_TOURNAMENT"
	MatchGetNames       = "GET_NAMES"
	MatchGetOpponent    = "GET_OPPONENT"
	MatchIsForfeit      = "IS_FORFEIT"
	MatchDisconnect     = "DISCONNECT"
	MatchEnd            = "END_MATCH"
)

// Matchmaking event types sent back to the gateway.
const (
	EventMatchFound           = "matchmaking:matchFound"
	EventSoloMatchReady       = "matchmaking:soloMatchReady"
	EventTournamentMatchReady = "matchmaking:tournamentMatchReady"
	EventPlayerNames          = "matchmaking:playerNames"
	EventPlayerNamesError     = "matchmaking:playerNamesError"
	EventOpponentID           = "matchmaking:opponentId"
	EventOpponentError        = "matchmaking:opponentError"
	EventForfeitStatus        = "matchmaking:forfeitStatus"
	EventConnectionError      = "matchmaking:connectionError"
)

// SoloModeAI selects an autonomous opponent for solo matches.
const SoloModeAI = "soloIA"

// MatchRequest is a player request forwarded to the matchmaking coordinator.
type MatchRequest struct {
	Type        string `json:"type"`
	UserID      string `json:"userId,omitempty"`
	MatchID     string `json:"matchId,omitempty"`
	Mode        string `json:"mode,omitempty"`
	OpponentID  string `json:"opponentId,omitempty"`
	WinnerID    string `json:"winnerId,omitempty"`
	LoserID     string `json:"loserId,omitempty"`
	WinnerScore int    `json:"winnerScore,omitempty"`
	LoserScore  int    `json:"loserScore,omitempty"`
}

// RequestFromCommand injects the authenticated user into a player command.
func RequestFromCommand(userID string, cmd MatchmakingCommand) MatchRequest {
	return MatchRequest{
		Type:        cmd.Action,
		UserID:      userID,
		MatchID:     cmd.MatchID,
		Mode:        cmd.Mode,
		OpponentID:  cmd.OpponentID.String(),
		WinnerID:    cmd.WinnerID.String(),
		LoserID:     cmd.LoserID.String(),
		WinnerScore: cmd.WinnerScore,
		LoserScore:  cmd.LoserScore,
	}
}

// Player binds a user to a side of an announced match.
type Player struct {
	UserID string `json:"userId"`
	Side   string `json:"side"`
}

// MatchEvent is any message the coordinator emits towards the gateway.
type MatchEvent struct {
	Type       string   `json:"type"`
	MatchID    string   `json:"matchId,omitempty"`
	UserID     string   `json:"userId,omitempty"`
	Players    []Player `json:"players,omitempty"`
	OpponentID string   `json:"opponentId,omitempty"`
	Player1    string   `json:"player1,omitempty"`
	Player2    string   `json:"player2,omitempty"`
	Player1ID  string   `json:"player1Id,omitempty"`
	Player2ID  string   `json:"player2Id,omitempty"`
	IsForfeit  *bool    `json:"isForfeit,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// IsAnnouncement reports whether the event pairs players into a new match.
func (e MatchEvent) IsAnnouncement() bool {
	switch e.Type {
	case EventMatchFound, EventSoloMatchReady, EventTournamentMatchReady:
		return true
	default:
		return false
	}
}

// MatchFound is the per-player translation of an announcement.
type MatchFound struct {
	Type       string  `json:"type"`
	MatchID    string  `json:"matchId"`
	Side       string  `json:"side"`
	UserID     string  `json:"userId"`
	OpponentID *string `json:"opponentId"`
}

// MatchFoundFor builds the announcement seen by one player of the event.
func MatchFoundFor(event MatchEvent, player Player) MatchFound {
	found := MatchFound{Type: EventMatchFound, MatchID: event.MatchID, Side: player.Side, UserID: player.UserID}
	for _, other := range event.Players {
		if other.UserID != player.UserID {
			opponent := other.UserID
			found.OpponentID = &opponent
			break
		}
	}
	return found
}

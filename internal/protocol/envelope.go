package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"pongnet/core/internal/game"
)

// Client message types and namespace prefixes.
const (
	TypeAuth            = "auth"
	TypeRegisterService = "registerService"
	TypeError           = "error"
	TypeAuthSuccess     = "auth:success"
	TypeAuthError       = "auth:error"
	TypeGameState       = "game:state"

	PrefixGame        = "game:"
	PrefixMatchmaking = "matchmaking:"
	PrefixAI          = "AI:"
	PrefixTournament  = "tournament:"
)

// Game actions carried after the game: prefix.
const (
	ActionStart      = "start"
	ActionResume     = "resume"
	ActionPaddleMove = "paddleMove"
	ActionGetState   = "getState"
	ActionDisconnect = "disconnect"
)

var (
	// ErrEmptyPayload is returned when a frame carries no bytes.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrInvalidEnvelope is returned when a frame is not a JSON object with a type.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// ID is a user identifier that accepts both JSON strings and JSON numbers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(raw))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	if value, err := number.Int64(); err == nil {
		*id = ID(strconv.FormatInt(value, 10))
		return nil
	}
	*id = ID(number.String())
	return nil
}

// String returns the identifier text.
func (id ID) String() string { return string(id) }

// Settings carries the per-match physics enums as sent by browsers.
type Settings struct {
	BallSpeed   string `json:"ballSpeed,omitempty"`
	BallSize    string `json:"ballSize,omitempty"`
	PaddleSize  string `json:"paddleSize,omitempty"`
	PaddleSpeed string `json:"paddleSpeed,omitempty"`
}

// Options converts the raw enums, falling back to NORMAL/SMALL defaults.
func (s Settings) Options() game.Options {
	opts := game.ParseOptions(s.BallSpeed, s.BallSize, s.PaddleSize)
	opts.PaddleSpeed = strings.ToUpper(strings.TrimSpace(s.PaddleSpeed))
	return opts
}

// SettingsFrom renders options back into their wire enums.
func SettingsFrom(opts game.Options) Settings {
	return Settings{
		BallSpeed:   string(opts.BallSpeed),
		BallSize:    string(opts.BallSize),
		PaddleSize:  string(opts.PaddleSize),
		PaddleSpeed: opts.PaddleSpeed,
	}
}

// Message is one decoded client frame.
type Message interface {
	MessageType() string
}

// Auth carries the credentials a browser presents once per socket.
type Auth struct {
	Token  string `json:"token"`
	UserID ID     `json:"userId"`
}

// MessageType implements Message.
func (Auth) MessageType() string { return TypeAuth }

// RegisterService announces a backend link on the gateway socket.
type RegisterService struct {
	Service string `json:"service"`
	Secret  string `json:"secret,omitempty"`
}

// MessageType implements Message.
func (RegisterService) MessageType() string { return TypeRegisterService }

// MarshalJSON renders the announcement with its type tag.
func (r RegisterService) MarshalJSON() ([]byte, error) {
	type plain RegisterService
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: TypeRegisterService, plain: plain(r)})
}

// GameCommand is any game: message from a player.
type GameCommand struct {
	Action  string `json:"-"`
	MatchID string `json:"matchId"`
	Settings
	Side     string   `json:"side,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Y        *float64 `json:"y,omitempty"`
}

// MessageType implements Message.
func (c GameCommand) MessageType() string { return PrefixGame + c.Action }

// PaddlePosition returns the reported paddle coordinate, accepting either field name.
func (c GameCommand) PaddlePosition() (float64, bool) {
	if c.Position != nil {
		return *c.Position, true
	}
	if c.Y != nil {
		return *c.Y, true
	}
	return 0, false
}

// MatchmakingCommand is any matchmaking: message from a player.
type MatchmakingCommand struct {
	Action      string `json:"-"`
	MatchID     string `json:"matchId,omitempty"`
	Mode        string `json:"mode,omitempty"`
	OpponentID  ID     `json:"opponentId,omitempty"`
	WinnerID    ID     `json:"winnerId,omitempty"`
	LoserID     ID     `json:"loserId,omitempty"`
	WinnerScore int    `json:"winnerScore,omitempty"`
	LoserScore  int    `json:"loserScore,omitempty"`
}

// MessageType implements Message.
func (c MatchmakingCommand) MessageType() string { return PrefixMatchmaking + c.Action }

// AICommand is any AI: message from a player facing the autonomous controller.
type AICommand struct {
	Action  string `json:"-"`
	MatchID string `json:"matchId,omitempty"`
	Settings
}

// MessageType implements Message.
func (c AICommand) MessageType() string { return PrefixAI + c.Action }

// TournamentCommand is any tournament: message; its fields are forwarded untouched.
type TournamentCommand struct {
	Action string
	Fields map[string]any
}

// MessageType implements Message.
func (c TournamentCommand) MessageType() string { return PrefixTournament + c.Action }

// Unknown preserves frames whose type matches no known variant.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

// MessageType implements Message.
func (u Unknown) MessageType() string { return u.Type }

type header struct {
	Type string `json:"type"`
}

// DecodeClient decodes a browser or backend frame into its tagged variant.
func DecodeClient(data []byte) (Message, error) {
	//1.- Reject empty or untyped frames before looking at the variant payload.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyPayload
	}
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	kind := strings.TrimSpace(h.Type)
	if kind == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}

	//2.- Dispatch on the namespace prefix and decode the matching variant.
	switch {
	case kind == TypeAuth:
		var msg Auth
		return decodeVariant(data, &msg)
	case kind == TypeRegisterService:
		var msg RegisterService
		return decodeVariant(data, &msg)
	case strings.HasPrefix(kind, PrefixGame):
		msg := GameCommand{Action: strings.TrimPrefix(kind, PrefixGame)}
		return decodeVariant(data, &msg)
	case strings.HasPrefix(kind, PrefixMatchmaking):
		msg := MatchmakingCommand{Action: strings.TrimPrefix(kind, PrefixMatchmaking)}
		return decodeVariant(data, &msg)
	case strings.HasPrefix(kind, PrefixAI):
		msg := AICommand{Action: strings.TrimPrefix(kind, PrefixAI)}
		return decodeVariant(data, &msg)
	case strings.HasPrefix(kind, PrefixTournament):
		fields := make(map[string]any)
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		delete(fields, "type")
		return TournamentCommand{Action: strings.TrimPrefix(kind, PrefixTournament), Fields: fields}, nil
	default:
		return Unknown{Type: kind, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeVariant[T Message](data []byte, msg *T) (Message, error) {
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return *msg, nil
}

// StatePush is the game:state frame delivered to subscribers.
type StatePush struct {
	Type    string     `json:"type"`
	MatchID string     `json:"matchId"`
	Payload game.State `json:"payload"`
}

// NewStatePush wraps a snapshot for delivery.
func NewStatePush(state game.State) StatePush {
	return StatePush{Type: TypeGameState, MatchID: state.MatchID, Payload: state}
}

// Notice is a typed frame with an optional human readable message.
type Notice struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// NotAuthenticated is the reply to any frame sent before a successful auth.
func NotAuthenticated() Notice {
	return Notice{Type: TypeError, Message: "Not authenticated"}
}

package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"pongnet/core/internal/game"
)

// Directive names of the line-oriented control protocol between the gateway and the
// simulation host.
const (
	CmdSetUser      = "SET_USER"
	CmdStart        = "START"
	CmdResume       = "RESUME"
	CmdUpdatePaddle = "UPDATE_PADDLE"
	CmdGetState     = "GET_STATE"
	CmdDisconnect   = "DISCONNECT"

	// StatePrefix tags every state broadcast line.
	StatePrefix = "GAME_STATE"
	// stateFields is the number of colon separated values following the prefix.
	stateFields = 11
)

var (
	// ErrEmptyLine is returned for blank directives.
	ErrEmptyLine = errors.New("empty directive")
	// ErrUnknownDirective is returned for directives outside the protocol.
	ErrUnknownDirective = errors.New("unknown directive")
	// ErrMalformedDirective is returned when a known directive has bad arguments.
	ErrMalformedDirective = errors.New("malformed directive")
	// ErrMalformedState is returned for state lines without exactly eleven fields.
	ErrMalformedState = errors.New("malformed state line")
)

// Directive is one decoded control line.
type Directive struct {
	Command     string
	UserID      string
	MatchID     string
	Options     game.Options
	PaddleSpeed string
	Width       float64
	Height      float64
	Side        game.Side
	Position    float64
}

// SetUser binds the following directives of a link to a user and match.
func SetUser(userID, matchID string) Directive {
	return Directive{Command: CmdSetUser, UserID: userID, MatchID: matchID}
}

// Start asks the host to create the bound match if it does not exist yet.
func Start(opts game.Options) Directive {
	return Directive{Command: CmdStart, Options: opts, PaddleSpeed: opts.PaddleSpeed, Width: game.FieldWidth, Height: game.FieldHeight}
}

// Resume asks the host to serve the next round of the bound match.
func Resume(opts game.Options) Directive {
	d := Start(opts)
	d.Command = CmdResume
	return d
}

// UpdatePaddle reports the position of one paddle of the bound match.
func UpdatePaddle(side game.Side, position float64) Directive {
	return Directive{Command: CmdUpdatePaddle, Side: side, Position: position}
}

// GetState asks for an immediate snapshot of the bound match.
func GetState() Directive { return Directive{Command: CmdGetState} }

// Disconnect asks the host to free the bound match.
func Disconnect() Directive { return Directive{Command: CmdDisconnect} }

// String renders the directive as a protocol line without the trailing newline.
func (d Directive) String() string {
	switch d.Command {
	case CmdSetUser:
		return fmt.Sprintf("%s %s %s", CmdSetUser, d.UserID, d.MatchID)
	case CmdStart, CmdResume:
		paddleSpeed := d.PaddleSpeed
		if paddleSpeed == "" {
			paddleSpeed = "NORMAL"
		}
		return fmt.Sprintf("%s %s %s %s %s %s %s", d.Command,
			d.Options.BallSpeed, paddleSpeed, d.Options.PaddleSize, d.Options.BallSize,
			formatFloat(d.Width), formatFloat(d.Height))
	case CmdUpdatePaddle:
		return fmt.Sprintf("%s %s %s", CmdUpdatePaddle, d.Side, formatFloat(d.Position))
	default:
		return d.Command
	}
}

// ValidIdentifier reports whether id can travel as one field of a directive or a state
// line: non-empty, without whitespace, colons or control characters.
func ValidIdentifier(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r == ':' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ParseDirective decodes one control line. A malformed SET_USER still carries its
// command next to the error.
func ParseDirective(line string) (Directive, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Directive{}, ErrEmptyLine
	}
	d := Directive{Command: strings.ToUpper(fields[0])}
	args := fields[1:]
	switch d.Command {
	case CmdSetUser:
		//1.- A malformed binding still reports its command so the reader can unbind.
		if len(args) != 2 {
			return Directive{Command: CmdSetUser}, fmt.Errorf("%w: %s expects <userId> <matchId>", ErrMalformedDirective, CmdSetUser)
		}
		d.UserID, d.MatchID = args[0], args[1]
	case CmdStart, CmdResume:
		if len(args) != 6 {
			return Directive{}, fmt.Errorf("%w: %s expects 6 arguments, got %d", ErrMalformedDirective, d.Command, len(args))
		}
		d.Options = game.ParseOptions(args[0], args[3], args[2])
		d.PaddleSpeed = args[1]
		d.Options.PaddleSpeed = args[1]
		width, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			return Directive{}, fmt.Errorf("%w: width %q", ErrMalformedDirective, args[4])
		}
		height, err := strconv.ParseFloat(args[5], 64)
		if err != nil {
			return Directive{}, fmt.Errorf("%w: height %q", ErrMalformedDirective, args[5])
		}
		d.Width, d.Height = width, height
	case CmdUpdatePaddle:
		if len(args) != 2 {
			return Directive{}, fmt.Errorf("%w: %s expects <side> <position>", ErrMalformedDirective, CmdUpdatePaddle)
		}
		side, ok := game.ParseSide(args[0])
		if !ok {
			return Directive{}, fmt.Errorf("%w: side %q", ErrMalformedDirective, args[0])
		}
		position, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Directive{}, fmt.Errorf("%w: position %q", ErrMalformedDirective, args[1])
		}
		d.Side, d.Position = side, position
	case CmdGetState, CmdDisconnect:
	default:
		return Directive{}, fmt.Errorf("%w: %q", ErrUnknownDirective, fields[0])
	}
	return d, nil
}

// EncodeState renders a snapshot as a GAME_STATE line without the trailing newline.
func EncodeState(s game.State) string {
	parts := []string{
		StatePrefix,
		formatFloat(s.Ball.X),
		formatFloat(s.Ball.Y),
		formatFloat(s.Ball.DX),
		formatFloat(s.Ball.DY),
		formatFloat(s.Paddles.LeftY),
		formatFloat(s.Paddles.RightY),
		strconv.Itoa(s.Score.Left),
		strconv.Itoa(s.Score.Right),
		formatFlag(s.IsPaused),
		formatFlag(s.IsGameOver),
		s.MatchID,
	}
	return strings.Join(parts, ":")
}

// IsStateLine reports whether a line carries the state prefix.
func IsStateLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), StatePrefix+":")
}

// DecodeState parses a GAME_STATE line. Lines without exactly eleven fields after the
// prefix are rejected.
func DecodeState(line string) (game.State, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != stateFields+1 || parts[0] != StatePrefix {
		return game.State{}, fmt.Errorf("%w: %d fields", ErrMalformedState, len(parts)-1)
	}
	var floats [6]float64
	for i := range floats {
		value, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return game.State{}, fmt.Errorf("%w: field %d %q", ErrMalformedState, i+1, parts[i+1])
		}
		floats[i] = value
	}
	left, err := strconv.Atoi(parts[7])
	if err != nil {
		return game.State{}, fmt.Errorf("%w: left score %q", ErrMalformedState, parts[7])
	}
	right, err := strconv.Atoi(parts[8])
	if err != nil {
		return game.State{}, fmt.Errorf("%w: right score %q", ErrMalformedState, parts[8])
	}
	paused, err := parseFlag(parts[9])
	if err != nil {
		return game.State{}, err
	}
	over, err := parseFlag(parts[10])
	if err != nil {
		return game.State{}, err
	}
	if parts[11] == "" {
		return game.State{}, fmt.Errorf("%w: empty match id", ErrMalformedState)
	}
	return game.State{
		Ball:       game.BallState{X: floats[0], Y: floats[1], DX: floats[2], DY: floats[3]},
		Paddles:    game.PaddleState{LeftY: floats[4], RightY: floats[5]},
		Score:      game.Score{Left: left, Right: right},
		IsPaused:   paused,
		IsGameOver: over,
		MatchID:    parts[11],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func parseFlag(raw string) (bool, error) {
	switch raw {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: flag %q", ErrMalformedState, raw)
	}
}

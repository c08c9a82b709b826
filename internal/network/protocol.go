// Package network handles the line protocol and the transports it runs over
package network

import (
	"strconv"
	"strings"

	"arena-server/internal/game"
)

// Separator splits the fields of a line
const Separator = ";"

// MessageType is the first field of a line
type MessageType string

const (
	// Authentication phase, client -> server
	MsgLogin    MessageType = "LOGIN"
	MsgRegister MessageType = "REGISTER"

	// Game phase, client -> server
	MsgLogout            MessageType = "LOGOUT"
	MsgMatchmake         MessageType = "MATCHMAKE"
	MsgCancelMatchmaking MessageType = "CANCEL_MATCHMAKING"
	MsgForfeit           MessageType = "FORFEIT"
	MsgLeaderboard       MessageType = "LEADERBOARD"
	MsgBullet            MessageType = "BULLET"
	MsgHit               MessageType = "HIT"
	MsgModifierPickup    MessageType = "MODIFIER_PICKUP"
	MsgWallCollision     MessageType = "WALL_COLLISION"

	// MsgPosition is a bare "<id>;<x>;<y>" line; it has no keyword on the wire
	MsgPosition MessageType = "POSITION"
	MsgUnknown  MessageType = ""

	// Server -> client
	MsgLoginSuccess    MessageType = "LOGIN_SUCCESS"
	MsgLoginFailed     MessageType = "LOGIN_FAILED"
	MsgRegisterSuccess MessageType = "REGISTER_SUCCESS"
	MsgRegisterFailed  MessageType = "REGISTER_FAILED"
	MsgMatchFound      MessageType = "MATCH_FOUND"
	MsgStart           MessageType = "START"
	MsgEnd             MessageType = "END"
	MsgForfeitConfirm  MessageType = "FORFEIT_CONFIRM"
	MsgScores          MessageType = "SCORES"
	MsgModifier        MessageType = "MODIFIER"
	MsgResetPositions  MessageType = "RESET_POSITIONS"
)

// Failure reasons sent with LOGIN_FAILED and REGISTER_FAILED
const (
	ReasonInvalidCredentials = "INVALID_CREDENTIALS"
	ReasonAlreadyOnline      = "ALREADY_LOGGED_IN"
	ReasonUsernameTaken      = "USERNAME_TAKEN"
	ReasonInvalidInput       = "INVALID_INPUT"
	ReasonUnknownCommand     = "UNKNOWN_COMMAND"
	ReasonServerError        = "SERVER_ERROR"
)

// minimum field count per keyword, including the keyword itself
var arity = map[MessageType]int{
	MsgLogin:             3,
	MsgRegister:          3,
	MsgLogout:            1,
	MsgMatchmake:         1,
	MsgCancelMatchmaking: 1,
	MsgForfeit:           1,
	MsgLeaderboard:       1,
	MsgBullet:            6,
	MsgHit:               4,
	MsgModifierPickup:    4,
	MsgWallCollision:     1,
}

// Command is a parsed inbound line
type Command struct {
	Type   MessageType
	Fields []string // every field, keyword included
	Raw    string   // the line as received, without the line terminator
}

// Arg returns field i after the keyword, or "" if absent
func (c Command) Arg(i int) string {
	if i+1 < len(c.Fields) {
		return c.Fields[i+1]
	}
	return ""
}

// Parse classifies a line. Lines that are too short for their keyword, and
// anything unrecognised, come back as MsgUnknown.
func Parse(line string) Command {
	raw := strings.TrimRight(line, "\r\n")
	fields := strings.Split(raw, Separator)
	cmd := Command{Type: MsgUnknown, Fields: fields, Raw: raw}

	t := MessageType(fields[0])
	if n, ok := arity[t]; ok {
		if len(fields) >= n {
			cmd.Type = t
		}
		return cmd
	}

	if len(fields) == 3 && fields[0] != "" && isNumber(fields[1]) && isNumber(fields[2]) {
		cmd.Type = MsgPosition
	}
	return cmd
}

// IsRelayed reports whether the line is forwarded verbatim to the opponent
func (t MessageType) IsRelayed() bool {
	switch t {
	case MsgBullet, MsgHit, MsgModifierPickup, MsgWallCollision, MsgPosition:
		return true
	}
	return false
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// ParseCoord reads an integer coordinate, rounding fractional input
func ParseCoord(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if f < 0 {
		return int(f - 0.5), true
	}
	return int(f + 0.5), true
}

// Join builds a line from fields
func Join(fields ...string) string {
	return strings.Join(fields, Separator)
}

func itoa(n int) string { return strconv.Itoa(n) }

// LoginSuccess is LOGIN_SUCCESS;<level>;<winsStreak>;<lossStreak>;<connId>
func LoginSuccess(p game.PlayerData, connID string) string {
	return Join(string(MsgLoginSuccess), itoa(p.Level), itoa(p.WinsStreak()), itoa(p.LossStreak()), connID)
}

func LoginFailed(reason string) string {
	return Join(string(MsgLoginFailed), reason)
}

func RegisterSuccess() string {
	return string(MsgRegisterSuccess)
}

func RegisterFailed(reason string) string {
	return Join(string(MsgRegisterFailed), reason)
}

func MatchFound(spawn game.Position) string {
	return Join(string(MsgMatchFound), itoa(spawn.X), itoa(spawn.Y))
}

func Start() string {
	return string(MsgStart)
}

// End is END;<level>;<winsStreak>;<lossStreak>
func End(p game.PlayerData) string {
	return Join(string(MsgEnd), itoa(p.Level), itoa(p.WinsStreak()), itoa(p.LossStreak()))
}

// ForfeitConfirm is FORFEIT_CONFIRM;<level>;<winsStreak>;<lossStreak>
func ForfeitConfirm(p game.PlayerData) string {
	return Join(string(MsgForfeitConfirm), itoa(p.Level), itoa(p.WinsStreak()), itoa(p.LossStreak()))
}

// Scores is SCORES;player1;<score1>;player2;<score2>
func Scores(score1, score2 int) string {
	return Join(string(MsgScores), game.SlotPlayer1, itoa(score1), game.SlotPlayer2, itoa(score2))
}

func Modifier(m game.Modifier) string {
	return Join(string(MsgModifier), itoa(m.Position.X), itoa(m.Position.Y), string(m.Kind))
}

func ResetPositions() string {
	return string(MsgResetPositions)
}

// Leaderboard flattens the rows as user;level;streak;wins;losses per row
func Leaderboard(rows []game.LeaderboardEntry) string {
	fields := make([]string, 0, 1+5*len(rows))
	fields = append(fields, string(MsgLeaderboard))
	for _, r := range rows {
		fields = append(fields, r.Username, itoa(r.Level), itoa(r.Streak), itoa(r.Wins), itoa(r.Losses))
	}
	return Join(fields...)
}

// ParseLeaderboard is the client-side inverse of Leaderboard
func ParseLeaderboard(cmd Command) []game.LeaderboardEntry {
	var rows []game.LeaderboardEntry
	f := cmd.Fields[1:]
	for len(f) >= 5 {
		level, _ := strconv.Atoi(f[1])
		streak, _ := strconv.Atoi(f[2])
		wins, _ := strconv.Atoi(f[3])
		losses, _ := strconv.Atoi(f[4])
		rows = append(rows, game.LeaderboardEntry{Username: f[0], Level: level, Streak: streak, Wins: wins, Losses: losses})
		f = f[5:]
	}
	return rows
}

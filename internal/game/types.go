// Package game holds the arena's domain model: persistent player records,
// the win/loss leveling rules, leaderboard ranking and modifier spawning.
package game

import (
	"errors"
	"time"
)

// PlayerData represents persistent player data
type PlayerData struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Level     int       `json:"level"`
	Streak    int       `json:"streak"` // positive = win streak, negative = loss streak
	LastLogin time.Time `json:"last_login,omitempty"`
}

// WinsStreak is the positive part of the streak
func (p PlayerData) WinsStreak() int { return WinsStreak(p.Streak) }

// LossStreak is the magnitude of the negative part of the streak
func (p PlayerData) LossStreak() int { return LossStreak(p.Streak) }

// ModifierKind is the effect a pickup grants
type ModifierKind string

const (
	SpeedUp      ModifierKind = "SpeedUp"
	SpeedDown    ModifierKind = "SpeedDown"
	CooldownDown ModifierKind = "CooldownDown"
	CooldownUp   ModifierKind = "CooldownUp"
)

// ModifierKinds lists every kind in a fixed order
var ModifierKinds = []ModifierKind{SpeedUp, SpeedDown, CooldownDown, CooldownUp}

// Position is an arena coordinate
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bounds is an inclusive rectangle
type Bounds struct {
	MinX, MinY, MaxX, MaxY int
}

// Contains reports whether p lies inside b
func (b Bounds) Contains(p Position) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Arena layout
var (
	// ArenaBounds is the rectangle modifiers spawn in, inset from the walls
	ArenaBounds = Bounds{MinX: 60, MinY: 60, MaxX: 740, MaxY: 540}

	// SpawnPoints are the fixed start positions of player1 and player2
	SpawnPoints = [2]Position{{X: 100, Y: 300}, {X: 700, Y: 300}}
)

// Game constants
const (
	StartingLevel = 1

	// Matchmaking pairs players whose levels differ by at most this much
	MaxLevelGap = 1

	// Per session, per kind
	MaxModifiersPerKind = 3

	LeaderboardSize = 10

	DefaultWarmup        = 3 * time.Second
	DefaultMatchDuration = 180 * time.Second
	DefaultSpawnInterval = 5 * time.Second

	HitPoints           = 1
	WallCollisionPoints = 2
)

// Slot names identify the two sides of a session on the wire
const (
	SlotPlayer1 = "player1"
	SlotPlayer2 = "player2"
)

var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrUsernameTaken   = errors.New("username already exists")
	ErrEmptyUsername   = errors.New("username must not be empty")
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrAlreadyOnline   = errors.New("player already logged in")
)

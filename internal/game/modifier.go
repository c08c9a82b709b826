package game

import (
	"fmt"
	"math/rand/v2"
)

// Modifier is a live pickup inside one session
type Modifier struct {
	SessionID string       `json:"session_id"`
	Position  Position     `json:"position"`
	Kind      ModifierKind `json:"kind"`
}

// ID keys a modifier by its session and position
func (m Modifier) ID() string {
	return ModifierID(m.SessionID, m.Position)
}

// ModifierID builds the key used in the modifier table
func ModifierID(sessionID string, p Position) string {
	return fmt.Sprintf("%s:%d:%d", sessionID, p.X, p.Y)
}

// RandomSource is the subset of *rand.Rand the spawner needs
type RandomSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRandom draws from the process-wide generator and is safe for
// concurrent use
var DefaultRandom RandomSource = globalRand{}

// PickModifier chooses what to spawn next given the live counts per kind.
// It returns false when every kind is at capacity.
func PickModifier(rng RandomSource, counts map[ModifierKind]int, capPerKind int, area Bounds) (ModifierKind, Position, bool) {
	open := make([]ModifierKind, 0, len(ModifierKinds))
	for _, k := range ModifierKinds {
		if counts[k] < capPerKind {
			open = append(open, k)
		}
	}
	if len(open) == 0 {
		return "", Position{}, false
	}

	kind := open[rng.IntN(len(open))]
	pos := Position{
		X: area.MinX + rng.IntN(area.MaxX-area.MinX+1),
		Y: area.MinY + rng.IntN(area.MaxY-area.MinY+1),
	}
	return kind, pos, true
}

// ParseModifierKind validates a wire kind name
func ParseModifierKind(s string) (ModifierKind, bool) {
	for _, k := range ModifierKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

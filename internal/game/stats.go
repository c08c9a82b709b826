package game

// Outcome is a match result from one player's point of view
type Outcome int

const (
	Loss Outcome = iota
	Win
)

func (o Outcome) String() string {
	if o == Win {
		return "win"
	}
	return "loss"
}

// NextStreak returns the streak after a result. A win extends a non-negative
// streak and resets a losing one to 1; a loss mirrors that.
func NextStreak(streak int, outcome Outcome) int {
	if outcome == Win {
		if streak >= 0 {
			return streak + 1
		}
		return 1
	}
	if streak <= 0 {
		return streak - 1
	}
	return -1
}

// ApplyResult applies one result to (level, streak).
//
// Level goes up on a win that brings the streak to at least the current
// level. Level goes down (never below 1) on a loss once the losing streak
// reaches ceil(level/2). The streak survives level changes.
func ApplyResult(level, streak int, outcome Outcome) (newLevel, newStreak int) {
	if level < StartingLevel {
		level = StartingLevel
	}
	newStreak = NextStreak(streak, outcome)
	newLevel = level

	switch {
	case outcome == Win && newStreak >= level:
		newLevel = level + 1
	case outcome == Loss && newStreak <= 0 && -newStreak >= (level+1)/2:
		newLevel = max(StartingLevel, level-1)
	}
	return newLevel, newStreak
}

// WinsStreak is max(0, streak)
func WinsStreak(streak int) int {
	return max(0, streak)
}

// LossStreak is |min(0, streak)|
func LossStreak(streak int) int {
	return -min(0, streak)
}

package game

import "sort"

// LeaderboardEntry is one ranked row
type LeaderboardEntry struct {
	Username string `json:"username"`
	Level    int    `json:"level"`
	Streak   int    `json:"streak"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// RankPlayers orders players by level, then streak, both descending, and
// returns at most limit rows. Equal rows fall back to username order so the
// result is deterministic.
func RankPlayers(players []PlayerData, limit int) []LeaderboardEntry {
	sorted := make([]PlayerData, len(players))
	copy(sorted, players)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Streak != b.Streak {
			return a.Streak > b.Streak
		}
		return a.Username < b.Username
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	rows := make([]LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		rows[i] = LeaderboardEntry{
			Username: p.Username,
			Level:    p.Level,
			Streak:   p.Streak,
			Wins:     WinsStreak(p.Streak),
			Losses:   LossStreak(p.Streak),
		}
	}
	return rows
}

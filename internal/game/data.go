package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/crypto/bcrypt"

	"arena-server/pkg/logger"
)

// Backend is the durable side of the account store. Implementations live in
// internal/storage.
type Backend interface {
	LoadPlayers(ctx context.Context) ([]PlayerData, error)
	SavePlayer(ctx context.Context, player PlayerData) error
	Close() error
}

// playerRecord guards one account so stat updates and their persistence are
// serialized per username without blocking unrelated accounts
type playerRecord struct {
	mu   sync.Mutex
	data PlayerData
}

// DataManager is the in-memory account store in front of a Backend
type DataManager struct {
	backend    Backend
	players    cmap.ConcurrentMap[string, *playerRecord]
	bcryptCost int
	logger     *logger.Logger
}

// NewDataManager creates a new data manager instance
func NewDataManager(backend Backend, bcryptCost int, log *logger.Logger) *DataManager {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if log == nil {
		log = logger.Store
	}
	return &DataManager{
		backend:    backend,
		players:    cmap.New[*playerRecord](),
		bcryptCost: bcryptCost,
		logger:     log,
	}
}

// Initialize loads every account from the backend
func (dm *DataManager) Initialize(ctx context.Context) error {
	players, err := dm.backend.LoadPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load player database: %w", err)
	}
	for _, p := range players {
		if p.Level < StartingLevel {
			p.Level = StartingLevel
		}
		dm.players.Set(p.Username, &playerRecord{data: p})
	}
	dm.logger.Info("Loaded %d accounts", len(players))
	return nil
}

// Close releases the backend
func (dm *DataManager) Close() error {
	return dm.backend.Close()
}

// RegisterPlayer creates a new player account at level 1 with no streak
func (dm *DataManager) RegisterPlayer(ctx context.Context, username, password string) (PlayerData, error) {
	if username == "" {
		return PlayerData{}, ErrEmptyUsername
	}
	if password == "" {
		return PlayerData{}, ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), dm.bcryptCost)
	if err != nil {
		return PlayerData{}, fmt.Errorf("failed to hash password: %w", err)
	}

	rec := &playerRecord{data: PlayerData{
		Username: username,
		Password: string(hash),
		Level:    StartingLevel,
		Streak:   0,
	}}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !dm.players.SetIfAbsent(username, rec) {
		return PlayerData{}, ErrUsernameTaken
	}

	if err := dm.backend.SavePlayer(ctx, rec.data); err != nil {
		dm.players.Remove(username)
		return PlayerData{}, fmt.Errorf("failed to save new player: %w", err)
	}

	dm.logger.Info("Registered player %s", username)
	return rec.data, nil
}

// AuthenticatePlayer checks credentials and stamps the login time
func (dm *DataManager) AuthenticatePlayer(ctx context.Context, username, password string) (PlayerData, error) {
	rec, ok := dm.players.Get(username)
	if !ok {
		return PlayerData{}, ErrPlayerNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !checkPassword(rec.data.Password, password) {
		return PlayerData{}, ErrInvalidPassword
	}

	// Accounts imported with a clear-text password are upgraded on first login
	if !isBcryptHash(rec.data.Password) {
		if hash, err := bcrypt.GenerateFromPassword([]byte(password), dm.bcryptCost); err == nil {
			rec.data.Password = string(hash)
		}
	}

	rec.data.LastLogin = time.Now()
	if err := dm.backend.SavePlayer(ctx, rec.data); err != nil {
		dm.logger.Warn("Could not persist login of %s: %v", username, err)
	}
	return rec.data, nil
}

// RecordResult applies a win or loss to the player's level and streak and
// persists the new record
func (dm *DataManager) RecordResult(ctx context.Context, username string, outcome Outcome) (PlayerData, error) {
	rec, ok := dm.players.Get(username)
	if !ok {
		return PlayerData{}, ErrPlayerNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	oldLevel, oldStreak := rec.data.Level, rec.data.Streak
	rec.data.Level, rec.data.Streak = ApplyResult(oldLevel, oldStreak, outcome)

	dm.logger.Info("Player %s %s: level %d -> %d, streak %d -> %d",
		username, outcome, oldLevel, rec.data.Level, oldStreak, rec.data.Streak)

	if err := dm.backend.SavePlayer(ctx, rec.data); err != nil {
		return rec.data, fmt.Errorf("failed to save player %s: %w", username, err)
	}
	return rec.data, nil
}

// GetPlayerByUsername returns a copy of the account
func (dm *DataManager) GetPlayerByUsername(username string) (PlayerData, bool) {
	rec, ok := dm.players.Get(username)
	if !ok {
		return PlayerData{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.data, true
}

// Players returns a snapshot of every account
func (dm *DataManager) Players() []PlayerData {
	recs := dm.players.Items()
	out := make([]PlayerData, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.data)
		rec.mu.Unlock()
	}
	return out
}

// Leaderboard ranks all accounts and returns the top rows
func (dm *DataManager) Leaderboard(limit int) []LeaderboardEntry {
	return RankPlayers(dm.Players(), limit)
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func checkPassword(stored, given string) bool {
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return stored == given
}

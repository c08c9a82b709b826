// Package storage provides the durable account backends: a JSON file (the
// default), Redis and Postgres.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"arena-server/internal/game"
)

// PlayerDatabase is the on-disk layout of players.json
type PlayerDatabase struct {
	Players []game.PlayerData `json:"players"`
}

// FileBackend keeps every account in one JSON file that is rewritten
// wholesale on each change
type FileBackend struct {
	path    string
	mu      sync.Mutex
	players map[string]game.PlayerData
}

// NewFileBackend stores accounts in dataDir/players.json
func NewFileBackend(dataDir string) (*FileBackend, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileBackend{
		path:    filepath.Join(dataDir, "players.json"),
		players: make(map[string]game.PlayerData),
	}, nil
}

// Path returns the file location
func (f *FileBackend) Path() string { return f.path }

// LoadPlayers reads the file, creating an empty database if it is missing
func (f *FileBackend) LoadPlayers(ctx context.Context) ([]game.PlayerData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.players = make(map[string]game.PlayerData)
		return nil, f.saveLocked()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read players file: %w", err)
	}

	var db PlayerDatabase
	if len(data) > 0 {
		if err := json.Unmarshal(data, &db); err != nil {
			return nil, fmt.Errorf("failed to parse players JSON: %w", err)
		}
	}

	f.players = make(map[string]game.PlayerData, len(db.Players))
	for _, p := range db.Players {
		f.players[p.Username] = p
	}
	return db.Players, nil
}

// SavePlayer updates one record and rewrites the whole file
func (f *FileBackend) SavePlayer(ctx context.Context, player game.PlayerData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players[player.Username] = player
	return f.saveLocked()
}

func (f *FileBackend) saveLocked() error {
	db := PlayerDatabase{Players: make([]game.PlayerData, 0, len(f.players))}
	for _, p := range f.players {
		db.Players = append(db.Players, p)
	}
	sort.Slice(db.Players, func(i, j int) bool { return db.Players[i].Username < db.Players[j].Username })

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal player data: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write players file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace players file: %w", err)
	}
	return nil
}

// Close is a no-op; every change is already on disk
func (f *FileBackend) Close() error { return nil }

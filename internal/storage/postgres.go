package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena-server/internal/game"
)

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	username   TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	level      INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
	streak     INTEGER NOT NULL DEFAULT 0,
	last_login TIMESTAMPTZ
)`

const upsertAccount = `
INSERT INTO accounts (username, password, level, streak, last_login)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (username) DO UPDATE
SET password = EXCLUDED.password,
    level = EXCLUDED.level,
    streak = EXCLUDED.streak,
    last_login = EXCLUDED.last_login`

// PostgresBackend keeps accounts in an `accounts` table
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects with the given DSN and makes sure the table exists
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createAccountsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create accounts table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// LoadPlayers selects every account
func (p *PostgresBackend) LoadPlayers(ctx context.Context) ([]game.PlayerData, error) {
	rows, err := p.pool.Query(ctx, `SELECT username, password, level, streak, last_login FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}

	players, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.PlayerData, error) {
		var (
			pd        game.PlayerData
			lastLogin *time.Time
		)
		if err := row.Scan(&pd.Username, &pd.Password, &pd.Level, &pd.Streak, &lastLogin); err != nil {
			return pd, err
		}
		if lastLogin != nil {
			pd.LastLogin = *lastLogin
		}
		return pd, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	return players, nil
}

// SavePlayer upserts one account
func (p *PostgresBackend) SavePlayer(ctx context.Context, pd game.PlayerData) error {
	var lastLogin *time.Time
	if !pd.LastLogin.IsZero() {
		lastLogin = &pd.LastLogin
	}
	if _, err := p.pool.Exec(ctx, upsertAccount, pd.Username, pd.Password, pd.Level, pd.Streak, lastLogin); err != nil {
		return fmt.Errorf("failed to save account %s: %w", pd.Username, err)
	}
	return nil
}

// Close closes the pool
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"arena-server/internal/game"
)

const (
	redisIndexKey     = "arena:accounts"
	redisAccountKeyFn = "arena:account:%s"
)

// RedisBackend stores each account as a hash and keeps an index set of
// usernames for loading
type RedisBackend struct {
	client *redis.Client
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend connects and pings the server
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisBackend{client: client}, nil
}

func accountKey(username string) string {
	return fmt.Sprintf(redisAccountKeyFn, username)
}

// LoadPlayers reads every indexed account
func (r *RedisBackend) LoadPlayers(ctx context.Context) ([]game.PlayerData, error) {
	names, err := r.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, accountKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	players := make([]game.PlayerData, 0, len(names))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := decodeAccount(names[i], fields)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, nil
}

// SavePlayer writes the account hash and indexes it atomically
func (r *RedisBackend) SavePlayer(ctx context.Context, p game.PlayerData) error {
	fields := map[string]interface{}{
		"password": p.Password,
		"level":    p.Level,
		"streak":   p.Streak,
	}
	if !p.LastLogin.IsZero() {
		fields["last_login"] = p.LastLogin.UTC().Format(time.RFC3339Nano)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, accountKey(p.Username), fields)
		pipe.SAdd(ctx, redisIndexKey, p.Username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", p.Username, err)
	}
	return nil
}

// Close closes the client
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func decodeAccount(username string, fields map[string]string) (game.PlayerData, error) {
	p := game.PlayerData{Username: username, Password: fields["password"]}

	level, err := strconv.Atoi(fields["level"])
	if err != nil {
		return p, fmt.Errorf("account %s: bad level %q: %w", username, fields["level"], err)
	}
	streak, err := strconv.Atoi(fields["streak"])
	if err != nil {
		return p, fmt.Errorf("account %s: bad streak %q: %w", username, fields["streak"], err)
	}
	p.Level, p.Streak = level, streak

	if ts := fields["last_login"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.LastLogin = t
		}
	}
	return p, nil
}

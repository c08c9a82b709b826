// Package config loads server settings from YAML, .env and ARENA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"arena-server/internal/game"
)

// Storage drivers
const (
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Match  MatchConfig  `yaml:"match"`
	Store  StoreConfig  `yaml:"store"`
	Events EventsConfig `yaml:"events"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// WSPort serves /ws, /healthz and /leaderboard; 0 disables HTTP
	WSPort int `yaml:"ws_port"`
	// IdleTimeout closes connections that stay silent this long; 0 disables the reaper
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// OutboundQueue is the per-connection send buffer, in lines
	OutboundQueue int `yaml:"outbound_queue"`
}

type MatchConfig struct {
	Warmup        time.Duration `yaml:"warmup"`
	Duration      time.Duration `yaml:"duration"`
	SpawnInterval time.Duration `yaml:"spawn_interval"`
	ModifierCap   int           `yaml:"modifier_cap"`
	LevelGap      int           `yaml:"level_gap"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	DataDir       string `yaml:"data_dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	BcryptCost    int    `yaml:"bcrypt_cost"`
}

type EventsConfig struct {
	// NatsURL empty means events are not published
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	Dir   string `yaml:"dir"`
}

// Default returns the settings used when nothing is configured
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:          "localhost",
			Port:          8080,
			WSPort:        8081,
			IdleTimeout:   10 * time.Minute,
			OutboundQueue: 256,
		},
		Match: MatchConfig{
			Warmup:        game.DefaultWarmup,
			Duration:      game.DefaultMatchDuration,
			SpawnInterval: game.DefaultSpawnInterval,
			ModifierCap:   game.MaxModifiersPerKind,
			LevelGap:      game.MaxLevelGap,
		},
		Store: StoreConfig{
			Driver:     DriverFile,
			DataDir:    "data",
			RedisAddr:  "localhost:6379",
			BcryptCost: 10,
		},
		Events: EventsConfig{
			SubjectPrefix: "arena",
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "logs",
		},
	}
}

// Load reads path (optional, "" skips it) over the defaults, then loads
// envFile into the environment if it exists and applies ARENA_* overrides
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("ARENA_HOST", &c.Server.Host)
	num("ARENA_PORT", &c.Server.Port)
	num("ARENA_WS_PORT", &c.Server.WSPort)
	dur("ARENA_IDLE_TIMEOUT", &c.Server.IdleTimeout)
	num("ARENA_OUTBOUND_QUEUE", &c.Server.OutboundQueue)

	dur("ARENA_MATCH_WARMUP", &c.Match.Warmup)
	dur("ARENA_MATCH_DURATION", &c.Match.Duration)
	dur("ARENA_SPAWN_INTERVAL", &c.Match.SpawnInterval)
	num("ARENA_MODIFIER_CAP", &c.Match.ModifierCap)
	num("ARENA_LEVEL_GAP", &c.Match.LevelGap)

	str("ARENA_STORE_DRIVER", &c.Store.Driver)
	str("ARENA_DATA_DIR", &c.Store.DataDir)
	str("ARENA_REDIS_ADDR", &c.Store.RedisAddr)
	str("ARENA_REDIS_PASSWORD", &c.Store.RedisPassword)
	num("ARENA_REDIS_DB", &c.Store.RedisDB)
	str("ARENA_POSTGRES_DSN", &c.Store.PostgresDSN)
	num("ARENA_BCRYPT_COST", &c.Store.BcryptCost)

	str("ARENA_NATS_URL", &c.Events.NatsURL)
	str("ARENA_SUBJECT_PREFIX", &c.Events.SubjectPrefix)

	str("ARENA_LOG_LEVEL", &c.Log.Level)
	str("ARENA_LOG_FILE", &c.Log.File)
	str("ARENA_LOG_DIR", &c.Log.Dir)

	return errors.Join(errs...)
}

// Address is host:port of the TCP listener
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// HTTPAddress is host:ws_port, or "" when HTTP is disabled
func (c Config) HTTPAddress() string {
	if c.Server.WSPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.WSPort)
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.WSPort < 0 || c.Server.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("server.ws_port %d out of range", c.Server.WSPort))
	}
	if c.Server.WSPort != 0 && c.Server.WSPort == c.Server.Port {
		errs = append(errs, errors.New("server.ws_port must differ from server.port"))
	}
	if c.Server.IdleTimeout < 0 {
		errs = append(errs, errors.New("server.idle_timeout must not be negative"))
	}
	if c.Server.OutboundQueue < 1 {
		errs = append(errs, errors.New("server.outbound_queue must be at least 1"))
	}

	if c.Match.Warmup < 0 {
		errs = append(errs, errors.New("match.warmup must not be negative"))
	}
	if c.Match.Duration <= 0 {
		errs = append(errs, errors.New("match.duration must be positive"))
	}
	if c.Match.SpawnInterval <= 0 {
		errs = append(errs, errors.New("match.spawn_interval must be positive"))
	}
	if c.Match.ModifierCap < 0 {
		errs = append(errs, errors.New("match.modifier_cap must not be negative"))
	}
	if c.Match.LevelGap < 0 {
		errs = append(errs, errors.New("match.level_gap must not be negative"))
	}

	switch c.Store.Driver {
	case DriverFile:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir is required for the file driver"))
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of file, redis, postgres", c.Store.Driver))
	}
	if c.Store.BcryptCost != 0 && (c.Store.BcryptCost < 4 || c.Store.BcryptCost > 31) {
		errs = append(errs, fmt.Errorf("store.bcrypt_cost %d out of range 4-31", c.Store.BcryptCost))
	}

	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of DEBUG, INFO, WARN, ERROR", c.Log.Level))
	}

	return errors.Join(errs...)
}

// Arena Server - Main Entry Point
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"arena-server/internal/config"
	"arena-server/internal/events"
	"arena-server/internal/game"
	"arena-server/internal/server"
	"arena-server/internal/storage"
	"arena-server/pkg/logger"
)

var (
	version    = "1.0.0"
	buildTime  = "dev"
	configPath = flag.String("config", "", "YAML config file (optional)")
	envFile    = flag.String("env-file", ".env", "Env file loaded before ARENA_* overrides")
	host       = flag.String("host", "", "Server host (overrides config)")
	port       = flag.Int("port", 0, "Line-protocol TCP port (overrides config)")
	wsPort     = flag.Int("ws-port", -1, "HTTP/WebSocket port, 0 disables (overrides config)")
	dataDir    = flag.String("data-dir", "", "Data directory for the file store (overrides config)")
	store      = flag.String("store", "", "Account store: file, redis or postgres (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFile    = flag.String("log-file", "", "Log file path (optional)")
	help       = flag.Bool("help", false, "Show help information")
	ver        = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *help {
		showHelp()
		return
	}
	if *ver {
		showVersion()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := initLogging(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger.Server.Info("Starting Arena Server v%s", version)

	if err := run(cfg); err != nil {
		logger.Server.Fatal("Server failed: %v", err)
	}
	logger.Server.Info("Server shut down gracefully")
}

// loadConfig layers defaults, the YAML file, the env file, ARENA_* variables
// and finally any flags given on the command line
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "ws-port":
			cfg.Server.WSPort = *wsPort
		case "data-dir":
			cfg.Store.DataDir = *dataDir
		case "store":
			cfg.Store.Driver = *store
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	return cfg, cfg.Validate()
}

// initLogging sets up the logging system
func initLogging(lc config.LogConfig) error {
	logger.SetGlobalLogLevel(logger.ParseLevel(lc.Level))

	if lc.File != "" {
		if err := logger.Server.SetFile(lc.File); err != nil {
			return fmt.Errorf("failed to set log file: %w", err)
		}
		logger.Server.Info("Logging to file: %s", lc.File)
		return nil
	}
	if lc.Dir != "" {
		if err := logger.InitializeFileLogging(lc.Dir); err != nil {
			// console logging still works
			logger.Server.Warn("Could not initialize file logging: %v", err)
		}
	}
	return nil
}

func openBackend(ctx context.Context, sc config.StoreConfig) (game.Backend, error) {
	switch sc.Driver {
	case config.DriverRedis:
		return storage.NewRedisBackend(ctx, storage.RedisOptions{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
	case config.DriverPostgres:
		return storage.NewPostgresBackend(ctx, sc.PostgresDSN)
	default:
		return storage.NewFileBackend(sc.DataDir)
	}
}

func openPublisher(ec config.EventsConfig) events.Publisher {
	if ec.NatsURL == "" {
		return events.Noop{}
	}
	pub, err := events.NewNATSPublisher(ec.NatsURL, ec.SubjectPrefix, logger.Server)
	if err != nil {
		// match results still persist without the event feed
		logger.Server.Error("NATS unavailable, match events disabled: %v", err)
		return events.Noop{}
	}
	logger.Server.Info("Publishing match events to %s", events.Subject(ec.SubjectPrefix))
	return pub
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	backend, err := openBackend(initCtx, cfg.Store)
	cancel()
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	dataManager := game.NewDataManager(backend, cfg.Store.BcryptCost, logger.Store)
	defer dataManager.Close()
	if err := dataManager.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize data manager: %w", err)
	}
	logger.Server.Info("Data manager initialized with %s store", cfg.Store.Driver)

	publisher := openPublisher(cfg.Events)
	defer publisher.Close()

	gameServer, err := server.NewServer(server.Options{
		Match:         cfg.Match,
		IdleTimeout:   cfg.Server.IdleTimeout,
		OutboundQueue: cfg.Server.OutboundQueue,
		Data:          dataManager,
		Events:        publisher,
		Logger:        logger.Server,
	})
	if err != nil {
		return err
	}

	var httpServer *http.Server
	if addr := cfg.HTTPAddress(); addr != "" {
		httpServer = &http.Server{
			Addr:              addr,
			Handler:           gameServer.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Server.Info("Starting server on %s", cfg.Address())
		return gameServer.ListenAndServe(cfg.Address())
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Server.Info("Serving WebSocket and health endpoints on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Server.Info("Received shutdown signal, stopping server...")

		if err := gameServer.Stop(); err != nil {
			logger.Server.Warn("Stop: %v", err)
		}
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Server.Warn("HTTP shutdown: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// showHelp displays help information
func showHelp() {
	name := os.Args[0]
	fmt.Printf(`Arena Server v%s

USAGE:
    %s [OPTIONS]

OPTIONS:
    -config string       YAML config file (optional)
    -env-file string     Env file read before ARENA_* variables (default ".env")
    -host string         Server host (default "localhost")
    -port int            Line-protocol TCP port (default 8080)
    -ws-port int         HTTP/WebSocket port, 0 disables (default 8081)
    -data-dir string     Data directory for the file store (default "data")
    -store string        Account store: file, redis, postgres (default "file")
    -log-level string    Set log level (DEBUG, INFO, WARN, ERROR) (default "INFO")
    -log-file string     Set log file path (optional)
    -help                Show this help message
    -version             Show version information

EXAMPLES:
    # Start server with default settings
    %s

    # Start on all interfaces with debug logging
    %s -host 0.0.0.0 -log-level DEBUG

    # Keep accounts in Redis
    %s -store redis

    # Production setup
    %s -config /etc/arena/config.yaml -log-file /var/log/arena-server.log

ENVIRONMENT:
    Every setting can be given as ARENA_<SECTION>_<KEY>, for example
    ARENA_SERVER_PORT, ARENA_MATCH_DURATION, ARENA_STORE_DRIVER,
    ARENA_STORE_POSTGRES_DSN or ARENA_EVENTS_NATS_URL.

NETWORK PROTOCOL:
    - Newline-terminated text lines with ';' separated fields
    - Plain TCP on -port, the same lines over WebSocket at /ws on -ws-port
    - GET /healthz and GET /leaderboard on -ws-port
`, version, name, name, name, name, name)
}

// showVersion displays version information
func showVersion() {
	fmt.Printf(`Arena Server
Version: %s
Build Time: %s
`, version, buildTime)
}

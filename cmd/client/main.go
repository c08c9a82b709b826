// Arena Client - Main Entry Point
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"arena-server/internal/client"
	"arena-server/pkg/logger"
)

var (
	version    = "1.0.0"
	serverAddr = flag.String("server", "localhost:8080", "Server address (host:port)")
	username   = flag.String("user", "", "Log in as this user right after connecting")
	password   = flag.String("password", "", "Password for -user (default $ARENA_PASSWORD)")
	noColor    = flag.Bool("no-color", false, "Disable coloured output")
	logLevel   = flag.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFile    = flag.String("log-file", "", "Log file path (optional)")
)

func main() {
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger.Client.Info("Starting Arena Client v%s", version)

	gameClient := client.NewClient(*serverAddr)
	if *username != "" {
		pw := *password
		if pw == "" {
			pw = os.Getenv("ARENA_PASSWORD")
		}
		if pw == "" {
			fmt.Fprintln(os.Stderr, "-user needs -password or ARENA_PASSWORD")
			os.Exit(2)
		}
		gameClient.AutoLogin(*username, pw)
	}
	setupGracefulShutdown(gameClient)

	if err := gameClient.Start(); err != nil {
		logger.Client.Error("Client failed: %v", err)
		os.Exit(1)
	}
}

// initLogging sets up the logging system
func initLogging() error {
	logger.SetGlobalLogLevel(logger.ParseLevel(*logLevel))

	if *logFile != "" {
		if err := logger.Client.SetFile(*logFile); err != nil {
			return fmt.Errorf("failed to set log file: %w", err)
		}
	}
	return nil
}

// setupGracefulShutdown closes the connection on interrupt signals
func setupGracefulShutdown(gameClient *client.Client) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Client.Info("Received shutdown signal, closing client...")
		gameClient.Close()
		os.Exit(0)
	}()
}

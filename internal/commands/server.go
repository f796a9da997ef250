package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/screener-back/internal/app"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/logger"
)

var (
	serverPort int
	serverHost string
	logLevel   string
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the screener backend server",
	Long: `Start the crypto screener backend server.

This will start all components:
• Exchange market data client with a budgeted rate limiter
• Rolling metrics calculator feeding the in-memory metric table
• Alert evaluator publishing fired alerts to NATS
• WebSocket hub for snapshots, deltas and heartbeats
• REST API for snapshots, health and manual refresh

Examples:
  screener-back server                    # Start with default settings
  screener-back server --port 9090        # Start on custom port
  screener-back server --log-level debug  # Enable debug logging`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port")
	serverCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Server host")
	serverCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Command line flags override the environment.
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info("Starting crypto screener backend")

	application := app.New(cfg, log)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-interrupt
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout - forcing exit")
		os.Exit(1)
	}

	return nil
}

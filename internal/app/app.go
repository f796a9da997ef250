package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/alerts"
	"github.com/screener-back/internal/api"
	"github.com/screener-back/internal/cache"
	"github.com/screener-back/internal/database"
	"github.com/screener-back/internal/exchange"
	"github.com/screener-back/internal/messaging"
	"github.com/screener-back/internal/metrics"
	"github.com/screener-back/internal/session"
	"github.com/screener-back/internal/websocket"
	"github.com/screener-back/pkg/config"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Storage and messaging
	mysqlDB    *database.MySQLClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient

	// Core components
	exchangeClient *exchange.Client
	table          *metrics.Table
	calculator     *metrics.Calculator
	evaluator      *alerts.Evaluator
	registry       *session.Registry
	hub            *websocket.Hub
	wsHandler      *websocket.Handler
	apiServer      *api.Server
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components
func (a *App) Initialize() error {
	if err := a.initializeDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initializeCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	if err := a.initializeMessaging(); err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	if err := a.initializeCore(); err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}

	if err := a.initializeAPIServer(); err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	return nil
}

// Start starts the application
func (a *App) Start() error {
	if err := a.calculator.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start calculator: %w", err)
	}

	if a.cfg.Alerts.Enabled {
		if err := a.evaluator.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start alert evaluator: %w", err)
		}
	}

	if err := a.hub.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil {
			if err != http.ErrServerClosed {
				a.logger.WithError(err).Error("API server error")
			}
		}
	}()

	return nil
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	a.cancel()

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
		cancel()
	}

	if a.hub != nil {
		a.hub.Stop()
	}
	if a.evaluator != nil {
		a.evaluator.Stop()
	}
	if a.calculator != nil {
		a.calculator.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}

	a.logger.Info("Application stopped successfully")
	return nil
}

// GetContext returns the application context
func (a *App) GetContext() context.Context {
	return a.ctx
}

// Private initialization methods

func (a *App) initializeDatabase() error {
	mysqlClient, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	a.mysqlDB = mysqlClient

	return nil
}

func (a *App) initializeCache() error {
	redisClient, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.redisCache = redisClient

	return nil
}

func (a *App) initializeMessaging() error {
	natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.natsClient = natsClient

	return nil
}

func (a *App) initializeCore() error {
	a.exchangeClient = exchange.NewClient(&a.cfg.Exchange, a.redisCache, a.logger)

	a.table = metrics.NewTable()
	a.calculator = metrics.NewCalculator(
		&a.cfg.Metrics,
		a.cfg.Exchange.QuoteCurrencies,
		a.exchangeClient,
		a.table,
		a.redisCache,
		a.natsClient,
		a.logger,
	)

	a.registry = session.NewRegistry(a.logger)
	a.hub = websocket.NewHub(&a.cfg.WebSocket, a.table, a.registry, a.logger)
	a.wsHandler = websocket.NewHandler(a.hub, a.registry, a.mysqlDB, &a.cfg.WebSocket, a.logger)

	a.evaluator = alerts.NewEvaluator(&a.cfg.Alerts, a.table, a.mysqlDB, a.natsClient, a.logger)
	a.evaluator.OnEvent(a.hub.PushAlert)

	return nil
}

func (a *App) initializeAPIServer() error {
	health := map[string]api.HealthChecker{
		"mysql":    a.mysqlDB,
		"redis":    a.redisCache,
		"nats":     a.natsClient,
		"exchange": healthFunc(a.exchangeClient.Ping),
	}

	a.apiServer = api.NewServer(
		a.cfg,
		a.table,
		a.registry,
		a.calculator,
		a.wsHandler,
		health,
		a.logger,
	)

	return nil
}

func (a *App) closeConnections() error {
	var errs []error

	if a.mysqlDB != nil {
		if err := a.mysqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MySQL: %w", err))
		}
	}

	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close NATS: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}

// healthFunc adapts a ping function to the HealthChecker interface
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error {
	return f(ctx)
}

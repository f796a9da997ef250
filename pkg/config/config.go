package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `env:", prefix=SERVER_"`
	MySQL     MySQLConfig     `env:", prefix=MYSQL_"`
	Redis     RedisConfig     `env:", prefix=REDIS_"`
	NATS      NATSConfig      `env:", prefix=NATS_"`
	Exchange  ExchangeConfig  `env:", prefix=EXCHANGE_"`
	Metrics   MetricsConfig   `env:", prefix=METRICS_"`
	Alerts    AlertsConfig    `env:", prefix=ALERTS_"`
	Security  SecurityConfig  `env:", prefix=SECURITY_"`
	WebSocket WebSocketConfig `env:", prefix=WEBSOCKET_"`
	Logging   LoggingConfig   `env:", prefix=LOG_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=screener"`
	User            string        `env:"USER, default=screener"`
	Password        string        `env:"PASSWORD, default=screener123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=5"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
	CandleTTL    time.Duration `env:"CANDLE_TTL, default=30s"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// ExchangeConfig holds exchange REST configuration
type ExchangeConfig struct {
	APIURL            string        `env:"API_URL, default=https://api.binance.com"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT, default=10s"`
	RequestsPerSecond int           `env:"REQUESTS_PER_SECOND, default=20"`
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE, default=1000"`
	QuoteCurrencies   []string      `env:"QUOTE_CURRENCIES, default=USDT,USDC,FDUSD,BNB,BTC"`
	MinQuoteVolume    float64       `env:"MIN_QUOTE_VOLUME, default=1000"`
}

// MetricsConfig holds metric calculation configuration
type MetricsConfig struct {
	TickerInterval time.Duration `env:"TICKER_INTERVAL, default=10s"`
	CandleInterval time.Duration `env:"CANDLE_INTERVAL, default=60s"`
	Workers        int           `env:"WORKERS, default=8"`
	CandleSymbols  int           `env:"CANDLE_SYMBOLS, default=100"`
}

// AlertsConfig holds alert evaluation configuration
type AlertsConfig struct {
	Enabled      bool          `env:"ENABLED, default=true"`
	Interval     time.Duration `env:"INTERVAL, default=30s"`
	RuleCacheTTL time.Duration `env:"RULE_CACHE_TTL, default=60s"`
	TopSymbols   int           `env:"TOP_SYMBOLS, default=100"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	CORSEnabled bool     `env:"CORS_ENABLED, default=true"`
	CORSOrigins []string `env:"CORS_ORIGINS, default=*"`
	CORSMethods []string `env:"CORS_METHODS, default=GET,POST,PUT,DELETE,OPTIONS"`
	CORSHeaders []string `env:"CORS_HEADERS, default=*"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize    int           `env:"READ_BUFFER_SIZE, default=1024"`
	WriteBufferSize   int           `env:"WRITE_BUFFER_SIZE, default=1024"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE, default=512000"`
	PingInterval      time.Duration `env:"PING_INTERVAL, default=30s"`
	PongTimeout       time.Duration `env:"PONG_TIMEOUT, default=60s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT, default=10s"`
	MaxClients        int           `env:"MAX_CLIENTS, default=10000"`
	EnableCompression bool          `env:"ENABLE_COMPRESSION, default=true"`
	DeltaInterval     time.Duration `env:"DELTA_INTERVAL, default=10s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL, default=10s"`
	SnapshotChunkSize int           `env:"SNAPSHOT_CHUNK_SIZE, default=500"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.MySQL.Host == "" {
		return fmt.Errorf("MySQL host is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("Redis host is required")
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}

	if c.Exchange.RequestsPerSecond <= 0 || c.Exchange.RequestsPerMinute <= 0 {
		return fmt.Errorf("exchange request budget must be positive")
	}

	if len(c.Exchange.QuoteCurrencies) == 0 {
		return fmt.Errorf("at least one quote currency is required")
	}

	return nil
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

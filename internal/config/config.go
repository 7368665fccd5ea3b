// Package config provides configuration management for the AVCO ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Networks    NetworksConfig
	RPC         RPCConfig
	Backfill    BackfillConfig
	CrossWallet CrossWalletConfig
	Events      EventsConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64 // per client IP; 0 disables limiting
	RateLimitBurst  int
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Backend string // "postgres" or "memory"
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ConnString returns a pgx connection string
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Database, c.MaxConnections)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// NetworksConfig holds the enabled networks and their endpoints
type NetworksConfig struct {
	Enabled  []string
	Networks map[string]NetworkConfig
}

// NetworkConfig holds configuration for a specific network
type NetworkConfig struct {
	RPCURLs           []string
	BatchSize         int
	AvgBlockTime      time.Duration
	RequestsPerSecond float64
}

// RPCConfig holds the retry policy shared by all RPC callers
type RPCConfig struct {
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      float64
	RetryMaxAttempts int
	EndpointCooldown time.Duration

	// SharedBudgetPerSecond caps requests per network across processes
	// through Redis; 0 disables the shared budget
	SharedBudgetPerSecond int
}

// BackfillConfig holds backfill pipeline configuration
type BackfillConfig struct {
	WindowBlocks      uint64
	ParallelSegments  int
	ParallelThreshold uint64 // ranges shorter than this run sequentially
	Workers           int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryScanInterval time.Duration
	IdlePassInterval  time.Duration
}

// CrossWalletConfig holds the cross-wallet view cache settings
type CrossWalletConfig struct {
	CacheTTL time.Duration
}

// EventsConfig sizes the in-process trigger bus
type EventsConfig struct {
	Buffer  int
	Workers int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
			RateLimitRPS:    getEnvAsFloat("SERVER_RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "postgres"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "avco_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "avco_ledger"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		RPC: RPCConfig{
			RetryBaseDelay:   getEnvAsDuration("RPC_RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:    getEnvAsDuration("RPC_RETRY_MAX_DELAY", 30*time.Second),
			RetryJitter:      getEnvAsFloat("RPC_RETRY_JITTER", 0.2),
			RetryMaxAttempts: getEnvAsInt("RPC_RETRY_MAX_ATTEMPTS", 5),
			EndpointCooldown: getEnvAsDuration("RPC_ENDPOINT_COOLDOWN", 60*time.Second),

			SharedBudgetPerSecond: getEnvAsInt("RPC_SHARED_BUDGET_PER_SECOND", 0),
		},
		Backfill: BackfillConfig{
			WindowBlocks:      uint64(getEnvAsInt("BACKFILL_WINDOW_BLOCKS", 2_000_000)),
			ParallelSegments:  getEnvAsInt("BACKFILL_PARALLEL_SEGMENTS", 4),
			ParallelThreshold: uint64(getEnvAsInt("BACKFILL_PARALLEL_THRESHOLD", 50_000)),
			Workers:           getEnvAsInt("BACKFILL_WORKERS", 4),
			MaxRetries:        getEnvAsInt("BACKFILL_MAX_RETRIES", 5),
			RetryBaseDelay:    getEnvAsDuration("BACKFILL_RETRY_BASE_DELAY", time.Minute),
			RetryScanInterval: getEnvAsDuration("BACKFILL_RETRY_SCAN_INTERVAL", 30*time.Second),
			IdlePassInterval:  getEnvAsDuration("BACKFILL_IDLE_PASS_INTERVAL", 10*time.Minute),
		},
		CrossWallet: CrossWalletConfig{
			CacheTTL: getEnvAsDuration("CROSS_WALLET_CACHE_TTL", 30*time.Second),
		},
		Events: EventsConfig{
			Buffer:  getEnvAsInt("EVENT_BUS_BUFFER", 1024),
			Workers: getEnvAsInt("EVENT_BUS_WORKERS", 4),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Networks = loadNetworkConfigs()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Backfill.Workers < 1 {
		return fmt.Errorf("BACKFILL_WORKERS must be positive, got %d", c.Backfill.Workers)
	}
	if c.Backfill.ParallelSegments < 1 {
		return fmt.Errorf("BACKFILL_PARALLEL_SEGMENTS must be positive, got %d", c.Backfill.ParallelSegments)
	}
	if c.Backfill.WindowBlocks == 0 {
		return fmt.Errorf("BACKFILL_WINDOW_BLOCKS must be positive")
	}
	if c.RPC.RetryJitter < 0 || c.RPC.RetryJitter >= 1 {
		return fmt.Errorf("RPC_RETRY_JITTER must be in [0,1), got %v", c.RPC.RetryJitter)
	}
	if c.RPC.RetryMaxAttempts < 1 {
		return fmt.Errorf("RPC_RETRY_MAX_ATTEMPTS must be positive, got %d", c.RPC.RetryMaxAttempts)
	}
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	return nil
}

// loadNetworkConfigs loads network-specific configurations
func loadNetworkConfigs() NetworksConfig {
	enabled := getEnvAsList("ENABLED_NETWORKS", []string{"ethereum", "polygon", "arbitrum", "optimism", "base"})

	networks := make(map[string]NetworkConfig)
	for _, network := range enabled {
		prefix := strings.ToUpper(network)
		networks[network] = NetworkConfig{
			RPCURLs:           getEnvAsList(prefix+"_RPC_URLS", nil),
			BatchSize:         getEnvAsInt(prefix+"_BATCH_SIZE", 2000),
			AvgBlockTime:      getEnvAsDuration(prefix+"_AVG_BLOCK_TIME", defaultBlockTime(network)),
			RequestsPerSecond: getEnvAsFloat(prefix+"_REQUESTS_PER_SECOND", 10),
		}
	}

	return NetworksConfig{
		Enabled:  enabled,
		Networks: networks,
	}
}

func defaultBlockTime(network string) time.Duration {
	switch network {
	case "ethereum":
		return 12 * time.Second
	case "polygon", "base", "optimism":
		return 2 * time.Second
	case "bnb":
		return 3 * time.Second
	case "arbitrum":
		return 250 * time.Millisecond
	case "solana":
		return 400 * time.Millisecond
	default:
		return 12 * time.Second
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(strings.ReplaceAll(valueStr, "_", ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Ledger     LedgerConfig
	Reconciler ReconcilerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
	// CORSOrigins is the browser origin allowlist; empty allows any origin.
	CORSOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode + "&prepare_threshold=0"
}

// DSN returns the key/value connection string used by lib/pq
func (c DatabaseConfig) DSN() string {
	return "host=" + c.Host + " port=" + strconv.Itoa(c.Port) + " user=" + c.User + " password=" + c.Password + " dbname=" + c.DBName + " sslmode=" + c.SSLMode
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	PASSWORD string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

// LedgerConfig holds the PharmaNFT contract connection settings.
// An empty ContractAddress disables the listener.
type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	StartBlock      uint64
	PollInterval    time.Duration
	Confirmations   uint64
	MaxBlockRange   uint64
}

// Enabled reports whether a ledger is configured.
func (c LedgerConfig) Enabled() bool {
	return c.RPCURL != "" && c.ContractAddress != ""
}

// ReconcilerConfig tunes event handling and the startup sweep
type ReconcilerConfig struct {
	CoalesceWindow    time.Duration
	SweepConcurrency  int
	RetryAttempts     int
	RetryBackoff      time.Duration
	CallTimeout       time.Duration
	PlaceholderExpiry time.Duration
	SweepOnStart      bool
	// EventMaxAttempts bounds redelivery of a failed ledger event, both by
	// the listener and by the sweep's replay of failed event rows.
	EventMaxAttempts int
	// SweepInterval repeats the sweep while the listener runs; zero disables it.
	SweepInterval time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Env:         getEnv("SERVER_ENV", "development"),
			CORSOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "pharmachain"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			PASSWORD: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "change-this-in-production"),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Ledger: LedgerConfig{
			RPCURL:          getEnv("LEDGER_RPC_URL", getEnv("RPC_URL", "")),
			ContractAddress: strings.ToLower(getEnv("CONTRACT_ADDRESS", "")),
			StartBlock:      getEnvAsUint64("LEDGER_START_BLOCK", 0),
			PollInterval:    getEnvAsDuration("LEDGER_POLL_INTERVAL", 5*time.Second),
			Confirmations:   getEnvAsUint64("LEDGER_CONFIRMATIONS", 0),
			MaxBlockRange:   getEnvAsUint64("LEDGER_MAX_BLOCK_RANGE", 2000),
		},
		Reconciler: ReconcilerConfig{
			CoalesceWindow:    getEnvAsDuration("RECONCILE_COALESCE_WINDOW", 60*time.Second),
			SweepConcurrency:  getEnvAsInt("RECONCILE_SWEEP_CONCURRENCY", 10),
			RetryAttempts:     getEnvAsInt("RECONCILE_RETRY_ATTEMPTS", 2),
			RetryBackoff:      getEnvAsDuration("RECONCILE_RETRY_BACKOFF", 500*time.Millisecond),
			CallTimeout:       getEnvAsDuration("RECONCILE_CALL_TIMEOUT", 10*time.Second),
			PlaceholderExpiry: getEnvAsDuration("RECONCILE_PLACEHOLDER_EXPIRY", 365*24*time.Hour),
			SweepOnStart:      getEnvAsBool("RECONCILE_SWEEP_ON_START", true),
			EventMaxAttempts:  getEnvAsInt("RECONCILE_EVENT_MAX_ATTEMPTS", 5),
			SweepInterval:     getEnvAsDuration("RECONCILE_SWEEP_INTERVAL", 0),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

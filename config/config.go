// Package config provides configuration management for the voltmarket application.
// It handles loading and validation of configuration values from environment variables,
// with support for required variables, default values, and collective error reporting.
// This is what lets the same binary run against a local Postgres and devnet RPC in
// development and against the real cluster in production without code changes.
// In Nest.js, the `@nestjs/config` module serves a similar purpose, often integrating
// with `.env` files and providing a `ConfigService`.
package config

import (
	"fmt"
	// `os` package provides operating system functionalities, like reading environment variables.
	"os"
	"strconv"
	"strings"
	"time"
)

// PoolConfig represents configuration for a single database connection pool.
type PoolConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxSize  int
}

// AuthConfig holds authentication-related configuration for the wallet
// challenge/response protocol and the session tokens it mints.
type AuthConfig struct {
	JWTSecret       string        // Secret key for signing session JWTs
	SessionDuration time.Duration // Absolute lifetime of a session token (no refresh tokens in this design)
	NonceTTL        time.Duration // Validity window of an authentication nonce
}

// RetryConfig holds the bounded-retry policy applied to every durable operation
// by the persistence gateway. A single config section keeps the policy auditable
// instead of sprinkling attempt counts across call sites.
type RetryConfig struct {
	MaxAttempts    int           // Total attempts, first try included
	InitialBackoff time.Duration // Backoff before the second attempt
	MaxBackoff     time.Duration // Backoff ceiling; doubling stops here
}

// SolanaConfig holds settings for the distributed-ledger client.
type SolanaConfig struct {
	RPCURL         string        // JSON-RPC endpoint; empty selects the in-process stub client
	RequestTimeout time.Duration // Per-request timeout for RPC calls
	EpochLength    time.Duration // Wall-clock length of one auction epoch
}

// SweepConfig holds settings for the background expiry sweeper.
type SweepConfig struct {
	Interval   time.Duration // How often the sweeper wakes up
	NonceGrace time.Duration // How long expired nonces are kept before deletion
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port string // Port for the HTTP server
}

// AppConfig is the top-level configuration structure for the application.
type AppConfig struct {
	DB     *PoolConfig
	Auth   *AuthConfig
	Retry  *RetryConfig
	Solana *SolanaConfig
	Sweep  *SweepConfig
	Server *ServerConfig
}

// Helper function to get a required environment variable.
// Appends an error to the errors slice if the variable is not set.
// This promotes a "fail fast" approach for critical missing configurations.
func getRequiredEnv(key string, errors *[]string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		*errors = append(*errors, fmt.Sprintf("missing required environment variable: %s", key))
		return "" // Return empty string, error is collected
	}
	return value
}

// Helper function to get an optional environment variable with a default string value.
func getOptionalEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get an optional environment variable parsed as an int.
// Uses defaultValue if not set or if parsing fails. Appends an error if parsing fails.
func getOptionalEnvInt(key string, defaultValue int, errors *[]string) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected integer, got '%s': %v", key, valueStr, err))
		return defaultValue // Return default, error is collected
	}
	return valueInt
}

// Helper function to get an optional environment variable parsed as time.Duration.
// Uses defaultValue if not set or if parsing fails. Appends an error if parsing fails.
// `time.ParseDuration` expects a string like "15m", "1h30s".
func getOptionalEnvDuration(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueDuration, err := time.ParseDuration(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected duration string, got '%s': %v", key, valueStr, err))
		return defaultValue // Return default, error is collected
	}
	return valueDuration
}

// parseAndValidatePoolSize converts a string value to an integer, validates and clamps it.
// Appends an error to the errors slice if parsing or validation fails.
func parseAndValidatePoolSize(valueStr string, varName string, errors *[]string) int {
	if valueStr == "" {
		*errors = append(*errors, fmt.Sprintf("missing value for pool size: %s", varName))
		return 5
	}
	size, err := strconv.Atoi(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid pool size for %s: expected integer, got '%s': %v", varName, valueStr, err))
		return 5
	}

	// Clamp the pool size between 5 and 100
	if size < 5 {
		*errors = append(*errors, fmt.Sprintf("pool size for %s (%d) is less than minimum 5, clamping to 5", varName, size))
		size = 5
	}
	if size > 100 {
		*errors = append(*errors, fmt.Sprintf("pool size for %s (%d) is greater than maximum 100, clamping to 100", varName, size))
		size = 100
	}
	return size
}

// LoadConfig creates and returns an AppConfig by reading and validating environment variables.
// It collects all errors encountered during loading and returns a single error if any exist,
// so an operator fixing a broken deployment sees every problem at once instead of one per restart.
func LoadConfig() (*AppConfig, error) {
	// `errors` slice collects all validation/parsing errors during config loading.
	var errors []string

	// Database configuration
	dbUser := getRequiredEnv("DB_USER", &errors)
	dbPassword := getRequiredEnv("DB_PASSWORD", &errors)
	dbName := getRequiredEnv("DB_NAME", &errors)
	dbHost := getOptionalEnv("DB_HOST", "localhost")
	dbPort := getOptionalEnvInt("DB_PORT", 5432, &errors)

	poolSize := 5
	if poolSizeStr := getOptionalEnv("DB_POOL_SIZE", "10"); poolSizeStr != "" {
		poolSize = parseAndValidatePoolSize(poolSizeStr, "DB_POOL_SIZE", &errors)
	}

	dbConfig := &PoolConfig{
		Host:     dbHost,
		Port:     dbPort,
		User:     dbUser,
		Password: dbPassword,
		DBName:   dbName,
		MaxSize:  poolSize,
	}

	// Auth configuration. The nonce window must be short enough to bound replay
	// risk but long enough for a human to click through a wallet-signing prompt.
	authConfig := &AuthConfig{
		JWTSecret:       getRequiredEnv("JWT_SECRET", &errors),
		SessionDuration: getOptionalEnvDuration("SESSION_DURATION", 24*time.Hour, &errors),
		NonceTTL:        getOptionalEnvDuration("AUTH_NONCE_TTL", 10*time.Minute, &errors),
	}

	// Retry policy for the persistence gateway.
	retryConfig := &RetryConfig{
		MaxAttempts:    getOptionalEnvInt("DB_RETRY_MAX_ATTEMPTS", 3, &errors),
		InitialBackoff: getOptionalEnvDuration("DB_RETRY_INITIAL_BACKOFF", 1*time.Second, &errors),
		MaxBackoff:     getOptionalEnvDuration("DB_RETRY_MAX_BACKOFF", 5*time.Second, &errors),
	}
	if retryConfig.MaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("DB_RETRY_MAX_ATTEMPTS (%d) must be at least 1", retryConfig.MaxAttempts))
		retryConfig.MaxAttempts = 1
	}

	// Ledger client configuration. An empty RPC URL is not an error: the order
	// and auth flows work without a live cluster, they just use the stub client.
	solanaConfig := &SolanaConfig{
		RPCURL:         getOptionalEnv("SOLANA_RPC_URL", ""),
		RequestTimeout: getOptionalEnvDuration("SOLANA_REQUEST_TIMEOUT", 10*time.Second, &errors),
		EpochLength:    getOptionalEnvDuration("SOLANA_EPOCH_LENGTH", 1*time.Hour, &errors),
	}

	// Background sweeper configuration.
	sweepConfig := &SweepConfig{
		Interval:   getOptionalEnvDuration("SWEEP_INTERVAL", 60*time.Second, &errors),
		NonceGrace: getOptionalEnvDuration("SWEEP_NONCE_GRACE", 1*time.Hour, &errors),
	}

	// Server configuration
	serverConfig := &ServerConfig{
		// The port is kept as a string because it's used directly in the listen
		// address (e.g. ":8080").
		Port: getOptionalEnv("PORT", "8080"),
	}

	// If any errors were collected during loading, return a single aggregated error message.
	if len(errors) > 0 {
		return nil, fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return &AppConfig{
		DB:     dbConfig,
		Auth:   authConfig,
		Retry:  retryConfig,
		Solana: solanaConfig,
		Sweep:  sweepConfig,
		Server: serverConfig,
	}, nil
}

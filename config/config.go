package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradovateLedger/internal/adapters/logger" // Import the logger package for LogLevel
	"tradovateLedger/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Broker connection
	BrokerID    string
	WSURL       string
	Environment domain.Environment
	UserID      int64
	Symbols     []string

	// Connection tuning
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	AuthTimeout          time.Duration
	MaxConnectionErrors  int
	MaxReconnectAttempts int
	QueueCapacity        int

	// Circuit breaker
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Broker connection
	cfg.BrokerID = getEnv("BROKER_ID", "tradovate")
	cfg.WSURL = getEnv("TRADOVATE_WS_URL", "wss://md.tradovateapi.com/v1/websocket")
	if cfg.WSURL == "" {
		errs = append(errs, "TRADOVATE_WS_URL must be set")
	}

	envName := strings.ToLower(getEnv("ENVIRONMENT", string(domain.EnvDemo)))
	switch domain.Environment(envName) {
	case domain.EnvDemo, domain.EnvLive:
		cfg.Environment = domain.Environment(envName)
	default:
		errs = append(errs, fmt.Sprintf("ENVIRONMENT must be %q or %q, got %q", domain.EnvDemo, domain.EnvLive, envName))
	}

	userID, err := getEnvAsIntRequired("USER_ID", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid USER_ID: %v", err))
	} else if userID <= 0 {
		errs = append(errs, "USER_ID must be set to a positive integer")
	}
	cfg.UserID = int64(userID)

	if raw := getEnv("SYMBOLS", ""); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Symbols = append(cfg.Symbols, s)
			}
		}
	}

	// Connection tuning
	heartbeatInterval := getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 20)
	if heartbeatInterval <= 0 {
		errs = append(errs, "HEARTBEAT_INTERVAL_SECONDS must be positive")
	}
	cfg.HeartbeatInterval = time.Duration(heartbeatInterval) * time.Second

	heartbeatTimeout := getEnvAsInt("HEARTBEAT_TIMEOUT_SECONDS", 30)
	if heartbeatTimeout <= heartbeatInterval {
		errs = append(errs, "HEARTBEAT_TIMEOUT_SECONDS must be greater than HEARTBEAT_INTERVAL_SECONDS")
	}
	cfg.HeartbeatTimeout = time.Duration(heartbeatTimeout) * time.Second

	authTimeout := getEnvAsInt("AUTH_TIMEOUT_SECONDS", 5)
	if authTimeout <= 0 {
		errs = append(errs, "AUTH_TIMEOUT_SECONDS must be positive")
	}
	cfg.AuthTimeout = time.Duration(authTimeout) * time.Second

	cfg.MaxConnectionErrors = getEnvAsInt("MAX_CONNECTION_ERRORS", 3)
	if cfg.MaxConnectionErrors <= 0 {
		errs = append(errs, "MAX_CONNECTION_ERRORS must be positive")
	}

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 5)
	if cfg.MaxReconnectAttempts <= 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS must be positive")
	}

	cfg.QueueCapacity = getEnvAsInt("MESSAGE_QUEUE_CAPACITY", 1000)
	if cfg.QueueCapacity <= 0 {
		errs = append(errs, "MESSAGE_QUEUE_CAPACITY must be positive")
	}

	// Circuit breaker
	cfg.BreakerThreshold = getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5)
	if cfg.BreakerThreshold <= 0 {
		errs = append(errs, "CIRCUIT_BREAKER_THRESHOLD must be positive")
	}
	breakerTimeout := getEnvAsInt("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 60)
	if breakerTimeout <= 0 {
		errs = append(errs, "CIRCUIT_BREAKER_TIMEOUT_SECONDS must be positive")
	}
	cfg.BreakerTimeout = time.Duration(breakerTimeout) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis cache for indexer reads (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// External service boundaries
	SigningServiceURL   string // delegated signing backend
	IndexerURL          string // chain read service (transfers, gas, yields)
	SettlementURL       string // cross-chain settlement network
	SigningScriptCID    string // content-addressed policy script reference
	OTLPEndpoint        string // OpenTelemetry collector (optional)

	// Agent runtime
	AgentIdentity    string // PKP-style public key the agent signs under (0x + 130 hex)
	AgentAddress     string // portfolio address the agent manages (0x + 40 hex)
	AnalysisInterval time.Duration

	// Settlement tuning
	RequiredConfirmations    int
	ConfirmPollInterval      time.Duration
	ManualSettlementApproval bool // gate bridge intents on an operator verdict

	// Signer behavior
	ConsumeCooldownOnFailure bool
}

// Defaults
const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultIndexerURL            = "http://localhost:8081"
	DefaultSettlementURL         = "https://api.nexus.avail.so"
	DefaultAnalysisInterval      = 60 * time.Second
	DefaultRequiredConfirmations = 12
	DefaultConfirmPollInterval   = time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisAddr:                os.Getenv("REDIS_ADDR"),   // Optional, disables read caching if not set
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  int(getEnvInt64("REDIS_DB", 0)),
		SigningServiceURL:        os.Getenv("SIGNING_SERVICE_URL"), // Required
		IndexerURL:               getEnv("INDEXER_URL", DefaultIndexerURL),
		SettlementURL:            getEnv("SETTLEMENT_URL", DefaultSettlementURL),
		SigningScriptCID:         os.Getenv("SIGNING_SCRIPT_CID"),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AgentIdentity:            os.Getenv("AGENT_IDENTITY"),
		AgentAddress:             os.Getenv("AGENT_ADDRESS"),
		AnalysisInterval:         getEnvDuration("ANALYSIS_INTERVAL", DefaultAnalysisInterval),
		RequiredConfirmations:    int(getEnvInt64("REQUIRED_CONFIRMATIONS", DefaultRequiredConfirmations)),
		ConfirmPollInterval:      getEnvDuration("CONFIRM_POLL_INTERVAL", DefaultConfirmPollInterval),
		ManualSettlementApproval: getEnvBool("MANUAL_SETTLEMENT_APPROVAL", false),
		ConsumeCooldownOnFailure: getEnvBool("CONSUME_COOLDOWN_ON_FAILURE", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SigningServiceURL == "" {
		return fmt.Errorf("SIGNING_SERVICE_URL is required")
	}
	if c.RequiredConfirmations < 0 {
		return fmt.Errorf("REQUIRED_CONFIRMATIONS must be non-negative")
	}
	if c.ConfirmPollInterval <= 0 {
		return fmt.Errorf("CONFIRM_POLL_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Wallet daemon RPC configuration
	WalletRPCURL  string
	WalletRPCUser string
	WalletRPCPass string
	RPCTimeout    time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Reconciliation configuration
	PollInterval     time.Duration
	MinConfirmations int

	// Transfer configuration
	TxFee                decimal.Decimal
	AirdropMaxRecipients int
	SoakMaxRecipients    int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Wallet daemon configuration
	cfg.WalletRPCURL = os.Getenv("WALLET_RPC_URL")
	if cfg.WalletRPCURL == "" {
		errs = append(errs, fmt.Errorf("WALLET_RPC_URL is required"))
	}
	cfg.WalletRPCUser = os.Getenv("WALLET_RPC_USER")
	cfg.WalletRPCPass = os.Getenv("WALLET_RPC_PASS")

	rpcTimeout, err := parseDuration("WALLET_RPC_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCTimeout = rpcTimeout
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tipledger-reconcile")

	// Reconciliation configuration
	pollInterval, err := parseDuration("POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	minConf, err := parseInt("MIN_CONFIRMATIONS", 2)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinConfirmations = minConf
	}

	// Transfer configuration
	txFee, err := parseDecimal("TX_FEE", "0.0001")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TxFee = txFee
	}

	maxAirdrop, err := parseInt("AIRDROP_MAX_RECIPIENTS", 50)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AirdropMaxRecipients = maxAirdrop
	}

	maxSoak, err := parseInt("SOAK_MAX_RECIPIENTS", 50)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SoakMaxRecipients = maxSoak
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.WalletRPCURL == "" {
		errs = append(errs, fmt.Errorf("WalletRPCURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if c.RPCTimeout < time.Second {
		errs = append(errs, fmt.Errorf("RPCTimeout must be at least 1 second"))
	}

	if c.MinConfirmations < 1 {
		errs = append(errs, fmt.Errorf("MinConfirmations must be at least 1"))
	}

	if c.TxFee.IsNegative() {
		errs = append(errs, fmt.Errorf("TxFee cannot be negative"))
	}

	if c.AirdropMaxRecipients < 1 {
		errs = append(errs, fmt.Errorf("AirdropMaxRecipients must be at least 1"))
	}

	if c.SoakMaxRecipients < 1 {
		errs = append(errs, fmt.Errorf("SoakMaxRecipients must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseDecimal parses a fixed-point decimal from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	result, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return result, nil
}

package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/unikron/relayer/pkg/logger"
)

// Config holds the configuration for the relayer service
type Config struct {
	FeeBps              uint64
	SettleAttemptBudget int
	WorkerCount         int
	MetricsPort         string
	QuoteAPIEndpoint    string
	QuoteCacheTTL       time.Duration
	MaxRetries          int
	RelayerSeed         []byte
	FeeCollector        string
	FeeVaults           FeeVaultsConfig
	CircuitBreaker      CircuitBreakerConfig
	Ledger              LedgerConfig
	LoggerConfig        LoggerConfig
}

// FeeVaultsConfig names the hex-encoded accounts the collected protocol
// fee is split into: 50% stakers, 30% treasury, remainder bounty. All
// empty disables distribution.
type FeeVaultsConfig struct {
	Stakers  string
	Treasury string
	Bounty   string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LedgerConfig holds the configuration for the settlement ledger.
// When Mode is "memory" the relayer settles against an in-process
// ledger; "evm" submits ERC-20 transfers to the configured endpoint.
type LedgerConfig struct {
	Mode          string
	RPCURL        string
	PrivateKey    string
	GasMultiplier float64
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	feeBps, err := GetEnvFeeBps()
	if err != nil {
		return nil, err
	}

	settleBudget, err := GetEnvSettleAttemptBudget()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	quoteAPIEndpoint, err := GetEnvQuoteAPIEndpoint()
	if err != nil {
		return nil, err
	}

	quoteTTL, err := GetEnvQuoteCacheTTL()
	if err != nil {
		return nil, err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	relayerSeed, err := GetEnvRelayerSeed()
	if err != nil {
		return nil, err
	}

	feeCollector, err := GetEnvFeeCollector()
	if err != nil {
		return nil, err
	}

	feeVaults, err := GetEnvFeeVaults()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	ledgerCfg, err := GetEnvLedgerConfig()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		FeeBps:              feeBps,
		SettleAttemptBudget: settleBudget,
		WorkerCount:         workerCount,
		MetricsPort:         metricsPort,
		QuoteAPIEndpoint:    quoteAPIEndpoint,
		QuoteCacheTTL:       quoteTTL,
		MaxRetries:          maxRetries,
		RelayerSeed:         relayerSeed,
		FeeCollector:        feeCollector,
		FeeVaults:           feeVaults,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		Ledger: ledgerCfg,
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	return cfg, nil
}

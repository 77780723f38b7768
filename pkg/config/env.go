package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/unikron/relayer/pkg/logger"
)

const (
	// LedgerModeMemory settles against an in-process ledger
	LedgerModeMemory = "memory"

	// LedgerModeEVM submits ERC-20 transfers to an EVM endpoint
	LedgerModeEVM = "evm"

	// DefaultFeeBps is the default protocol fee in basis points (0.1%)
	DefaultFeeBps = 10

	// DefaultSettleAttemptBudget is the default number of settlement
	// attempts before a record is cancelled; 0 means retryable until expiry
	DefaultSettleAttemptBudget = 0

	// DefaultWorkerCount defines the default number of workers to process reveals
	DefaultWorkerCount = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultQuoteCacheTTL defines the default TTL for cached route quotes in seconds
	DefaultQuoteCacheTTL = 30

	// DefaultMaxRetries defines the maximum number of retries for failed settlements
	DefaultMaxRetries = 10

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in seconds
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in seconds
	DefaultCircuitBreakerReset = 15

	// DefaultLedgerMode defines which settlement ledger backend to use
	DefaultLedgerMode = LedgerModeMemory

	// DefaultGasMultiplier defines the gas price buffer for EVM settlement (10%)
	DefaultGasMultiplier = 1.1

	// DefaultQuoteAPIEndpoint defines the default route-quote service endpoint
	DefaultQuoteAPIEndpoint = "http://localhost:3000"
)

// GetEnvQuoteAPIEndpoint returns the route-quote service endpoint from environment variables
func GetEnvQuoteAPIEndpoint() (string, error) {
	endpoint := os.Getenv("QUOTE_API_ENDPOINT")
	if endpoint == "" {
		return DefaultQuoteAPIEndpoint, nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid QUOTE_API_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvFeeBps returns the protocol fee in basis points from environment variables
func GetEnvFeeBps() (uint64, error) {
	feeBps := os.Getenv("FEE_BPS")
	if feeBps == "" {
		return DefaultFeeBps, nil
	}

	bps, err := strconv.ParseUint(feeBps, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid FEE_BPS value: %s, must be an unsigned integer", feeBps)
	}
	if bps >= 10000 {
		return 0, fmt.Errorf("FEE_BPS must be below 10000")
	}
	return bps, nil
}

// GetEnvSettleAttemptBudget returns the settlement attempt budget from environment variables
func GetEnvSettleAttemptBudget() (int, error) {
	budget := os.Getenv("SETTLE_ATTEMPT_BUDGET")
	if budget == "" {
		return DefaultSettleAttemptBudget, nil
	}

	budgetInt, err := strconv.Atoi(budget)
	if err != nil {
		return 0, fmt.Errorf("invalid SETTLE_ATTEMPT_BUDGET value: %s, must be an integer", budget)
	}
	if budgetInt < 0 {
		return 0, fmt.Errorf("SETTLE_ATTEMPT_BUDGET must not be negative")
	}
	return budgetInt, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvQuoteCacheTTL returns the quote cache TTL from environment variables
func GetEnvQuoteCacheTTL() (time.Duration, error) {
	ttl := os.Getenv("QUOTE_CACHE_TTL")
	if ttl == "" {
		return DefaultQuoteCacheTTL * time.Second, nil
	}

	parsed, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, fmt.Errorf("invalid QUOTE_CACHE_TTL value: %s, must be a valid duration string", ttl)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("QUOTE_CACHE_TTL must be greater than 0")
	}
	return parsed, nil
}

// GetEnvMaxRetries returns the maximum number of settlement retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	retries, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if retries <= 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than 0")
	}
	return retries, nil
}

// GetEnvRelayerSeed returns the relayer's Ed25519 seed from environment variables
func GetEnvRelayerSeed() ([]byte, error) {
	seedHex := os.Getenv("RELAYER_SEED")
	if seedHex == "" {
		return nil, fmt.Errorf("RELAYER_SEED is required")
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid RELAYER_SEED value: must be hex encoded")
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("invalid RELAYER_SEED value: must decode to 32 bytes, got %d", len(seed))
	}
	return seed, nil
}

// GetEnvFeeCollector returns the fee collector identity from environment variables
func GetEnvFeeCollector() (string, error) {
	feeCollector := os.Getenv("FEE_COLLECTOR")
	if feeCollector == "" {
		return "", fmt.Errorf("FEE_COLLECTOR is required")
	}

	decoded, err := hex.DecodeString(feeCollector)
	if err != nil || len(decoded) != 32 {
		return "", fmt.Errorf("invalid FEE_COLLECTOR value: must be a 32-byte hex key")
	}
	return feeCollector, nil
}

// GetEnvFeeVaults returns the fee distribution accounts from environment
// variables. The three vaults are configured together or not at all;
// with none set, distribution is disabled and fees stay with the
// collector.
func GetEnvFeeVaults() (FeeVaultsConfig, error) {
	cfg := FeeVaultsConfig{
		Stakers:  os.Getenv("FEE_STAKERS_ACCOUNT"),
		Treasury: os.Getenv("FEE_TREASURY_ACCOUNT"),
		Bounty:   os.Getenv("FEE_BOUNTY_ACCOUNT"),
	}

	if cfg.Stakers == "" && cfg.Treasury == "" && cfg.Bounty == "" {
		return FeeVaultsConfig{}, nil
	}

	for name, value := range map[string]string{
		"FEE_STAKERS_ACCOUNT":  cfg.Stakers,
		"FEE_TREASURY_ACCOUNT": cfg.Treasury,
		"FEE_BOUNTY_ACCOUNT":   cfg.Bounty,
	} {
		if value == "" {
			return FeeVaultsConfig{}, fmt.Errorf("%s is required when fee vaults are configured", name)
		}
		decoded, err := hex.DecodeString(value)
		if err != nil || len(decoded) != 32 {
			return FeeVaultsConfig{}, fmt.Errorf("invalid %s value: must be a 32-byte hex key", name)
		}
	}
	return cfg, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLedgerConfig returns the settlement ledger configuration from environment variables
func GetEnvLedgerConfig() (LedgerConfig, error) {
	mode := os.Getenv("LEDGER_MODE")
	if mode == "" {
		mode = DefaultLedgerMode
	}
	if mode != LedgerModeMemory && mode != LedgerModeEVM {
		return LedgerConfig{}, fmt.Errorf("invalid LEDGER_MODE value: %s, must be 'memory' or 'evm'", mode)
	}

	cfg := LedgerConfig{
		Mode:          mode,
		GasMultiplier: DefaultGasMultiplier,
	}

	if mode == LedgerModeEVM {
		cfg.RPCURL = os.Getenv("LEDGER_RPC_URL")
		if cfg.RPCURL == "" {
			return LedgerConfig{}, fmt.Errorf("LEDGER_RPC_URL is required when LEDGER_MODE is 'evm'")
		}
		cfg.PrivateKey = os.Getenv("LEDGER_PRIVATE_KEY")
		if cfg.PrivateKey == "" {
			return LedgerConfig{}, fmt.Errorf("LEDGER_PRIVATE_KEY is required when LEDGER_MODE is 'evm'")
		}
	}

	if multiplierStr := os.Getenv("LEDGER_GAS_MULTIPLIER"); multiplierStr != "" {
		multiplier, err := strconv.ParseFloat(multiplierStr, 64)
		if err != nil || multiplier <= 0 {
			return LedgerConfig{}, fmt.Errorf("invalid LEDGER_GAS_MULTIPLIER value: %s, must be a positive number", multiplierStr)
		}
		cfg.GasMultiplier = multiplier
	}

	return cfg, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch level {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}

	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of 'debug', 'info', 'notice', 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

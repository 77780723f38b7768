// Package relayer runs the reveal-and-settle pipeline: it accepts
// disclosed intents, drives them through the commit-reveal state
// machine, fetches route quotes and applies settlement through the
// configured ledger.
package relayer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/unikron/relayer/pkg/circuitbreaker"
	"github.com/unikron/relayer/pkg/config"
	"github.com/unikron/relayer/pkg/health"
	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/ledger"
	"github.com/unikron/relayer/pkg/logger"
	"github.com/unikron/relayer/pkg/metrics"
	"github.com/unikron/relayer/pkg/protocol"
	"github.com/unikron/relayer/pkg/settlement"
	"github.com/unikron/relayer/pkg/signer"
)

// RevealRequest carries a disclosed intent and its signature into the
// settlement pipeline.
type RevealRequest struct {
	Intent       intent.TradeIntent
	ExpectedHash intent.Digest
	Signature    signer.Signature
}

// RetryJob represents a scheduled settlement retry
type RetryJob struct {
	Request     RevealRequest
	RetryCount  int
	NextAttempt time.Time
	ErrorType   string // Type of error that caused the retry
}

// Service handles the reveal and settlement process
type Service struct {
	config      *config.Config
	engine      *protocol.Engine
	quotes      settlement.QuoteProvider
	quoteCache  *settlement.QuoteCache
	breaker     *circuitbreaker.CircuitBreaker
	keys        *signer.KeyPair
	logger      logger.Logger
	workers     int
	pendingJobs chan RevealRequest
	retryJobs   chan RetryJob
	retryMu     sync.Mutex
	retryCounts map[protocol.Key]int
	wg          sync.WaitGroup
}

// NewService creates a new relayer service wired to the given quote
// provider and settlement ledger.
func NewService(cfg *config.Config, quoteProvider settlement.QuoteProvider, l ledger.Ledger, log logger.Logger) (*Service, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	keys, err := signer.KeyPairFromSeed(cfg.RelayerSeed)
	if err != nil {
		return nil, fmt.Errorf("failed to load relayer keys: %v", err)
	}

	feeCollector, err := parseIdentity(cfg.FeeCollector)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fee collector: %v", err)
	}

	vaults, err := parseFeeVaults(cfg.FeeVaults)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fee vaults: %v", err)
	}

	var exec protocol.SettlementExecutor
	if l != nil {
		exec = ledger.NewExecutor(l, feeCollector, vaults, log)
	}

	calc := settlement.NewCalculator(cfg.FeeBps)
	engine := protocol.NewEngine(calc, exec, log, cfg.SettleAttemptBudget)

	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)

	return &Service{
		config:      cfg,
		engine:      engine,
		quotes:      quoteProvider,
		quoteCache:  settlement.NewQuoteCache(cfg.QuoteCacheTTL),
		breaker:     breaker,
		keys:        keys,
		logger:      log,
		workers:     cfg.WorkerCount,
		pendingJobs: make(chan RevealRequest, 100), // Buffer for pending reveals
		retryJobs:   make(chan RetryJob, 100),      // Buffer for retry jobs
		retryCounts: make(map[protocol.Key]int),
	}, nil
}

// Engine exposes the state machine for the commit/cancel surface and
// the health server.
func (s *Service) Engine() *protocol.Engine {
	return s.engine
}

// RelayerKey returns the service's relayer identity.
func (s *Service) RelayerKey() intent.PubKey {
	return s.keys.PubKey()
}

// Submit queues a reveal request for processing. It fails fast when the
// queue is full so callers can apply their own backpressure.
func (s *Service) Submit(req RevealRequest) error {
	// Add before the send: a worker may drain the job immediately.
	s.wg.Add(1)
	select {
	case s.pendingJobs <- req:
		return nil
	default:
		s.wg.Done()
		return fmt.Errorf("reveal queue full")
	}
}

// Start begins the relayer service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	// Start health monitoring server
	healthServer := health.NewServer(s.config.MetricsPort, s.engine, s.breaker, s.logger)
	go healthServer.Start()

	// Start worker pool
	s.logger.Info("Starting %d worker goroutines", s.workers)
	for i := 0; i < s.workers; i++ {
		go s.worker(ctx, i)
	}

	// Start retry handler on its own context so shutdown can stop it
	// before the pending queue is drained below.
	retryCtx, stopRetries := context.WithCancel(context.Background())
	retryDone := make(chan struct{})
	go func() {
		defer close(retryDone)
		s.retryHandler(retryCtx)
	}()

	s.logger.Info("Relayer service started (fee_bps=%d, ledger=%s)", s.config.FeeBps, s.config.Ledger.Mode)

	<-ctx.Done()
	s.logger.Info("Context cancelled, shutting down service")

	// Stop the retry handler first so nothing re-enqueues work while
	// the queue is drained.
	stopRetries()
	<-retryDone

	// Workers exit on ctx; release any jobs still queued so the
	// waitgroup can drain. The channels stay open because in-flight
	// workers may still schedule retries.
	for {
		select {
		case <-s.pendingJobs:
			s.wg.Done()
			continue
		default:
		}
		break
	}
	s.wg.Wait() // Wait for all in-flight jobs to finish
}

// getQuote consults the injected cache before the external provider.
func (s *Service) getQuote(ctx context.Context, tokenIn, tokenOut intent.TokenID, amountIn uint64) (settlement.RouteQuote, error) {
	if quote, ok := s.quoteCache.Get(tokenIn, tokenOut, amountIn); ok {
		metrics.QuoteCacheHits.Inc()
		return quote, nil
	}
	metrics.QuoteCacheMisses.Inc()

	quote, err := s.quotes.GetQuote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return settlement.RouteQuote{}, fmt.Errorf("quote fetch failed: %w", err)
	}
	s.quoteCache.Set(tokenIn, tokenOut, amountIn, quote)
	return quote, nil
}

func parseIdentity(hexKey string) (intent.PubKey, error) {
	var pk intent.PubKey
	decoded, err := hex.DecodeString(hexKey)
	if err != nil {
		return pk, fmt.Errorf("identity must be hex encoded: %v", err)
	}
	if len(decoded) != intent.KeySize {
		return pk, fmt.Errorf("identity must be %d bytes, got %d", intent.KeySize, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// parseFeeVaults decodes the configured fee distribution accounts. An
// all-empty config yields zero vaults, which disables distribution.
func parseFeeVaults(cfg config.FeeVaultsConfig) (ledger.FeeVaults, error) {
	if cfg == (config.FeeVaultsConfig{}) {
		return ledger.FeeVaults{}, nil
	}

	stakers, err := parseIdentity(cfg.Stakers)
	if err != nil {
		return ledger.FeeVaults{}, fmt.Errorf("stakers vault: %v", err)
	}
	treasury, err := parseIdentity(cfg.Treasury)
	if err != nil {
		return ledger.FeeVaults{}, fmt.Errorf("treasury vault: %v", err)
	}
	bounty, err := parseIdentity(cfg.Bounty)
	if err != nil {
		return ledger.FeeVaults{}, fmt.Errorf("bounty vault: %v", err)
	}
	return ledger.FeeVaults{Stakers: stakers, Treasury: treasury, Bounty: bounty}, nil
}

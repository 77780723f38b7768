package relayer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/unikron/relayer/pkg/logger"
	"github.com/unikron/relayer/pkg/metrics"
	"github.com/unikron/relayer/pkg/protocol"
	"github.com/unikron/relayer/pkg/settlement"
)

// worker processes reveal requests from the job queue
func (s *Service) worker(ctx context.Context, id int) {
	s.logger.Debug("Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker %d shutting down", id)
			return
		case req, ok := <-s.pendingJobs:
			if !ok {
				s.logger.Debug("Worker %d shutting down: channel closed", id)
				return
			}

			// Skip ledger work while the breaker is open; requeue so the
			// intent is not lost.
			if s.breaker.IsEnabled() && s.breaker.IsOpen() {
				failureCount, lastFailure, _, _ := s.breaker.GetState()
				s.logger.Notice("Worker %d: circuit breaker open (last failure: %v, failure count: %d), deferring intent nonce=%d",
					id, lastFailure, failureCount, req.Intent.Nonce)
				s.scheduleRetry(req, 0, "circuit_open")
				s.wg.Done()
				continue
			}

			startTime := time.Now()
			err := s.process(ctx, req)
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			metrics.SettleProcessingTime.WithLabelValues(outcome).Observe(time.Since(startTime).Seconds())

			if err != nil {
				shouldRetry, errorType := classifyError(err)
				s.logger.ErrorWithPhase(logger.Settle, "worker %d failed on intent nonce=%d: %v (type: %s, retry: %v)",
					id, req.Intent.Nonce, err, errorType, shouldRetry)

				if errorType == "ledger_failure" {
					s.breaker.RecordFailure()
				}

				if shouldRetry {
					s.scheduleRetry(req, 1, errorType)
				}
			} else {
				s.logger.InfoWithPhase(logger.Settle, "worker %d settled intent nonce=%d", id, req.Intent.Nonce)
			}

			s.wg.Done()
		}
	}
}

// process drives one reveal request through reveal, quote and settle.
func (s *Service) process(ctx context.Context, req RevealRequest) error {
	ti := req.Intent

	err := s.engine.Reveal(ti, req.ExpectedHash, req.Signature)
	if err != nil && !errors.Is(err, protocol.ErrAlreadyRevealed) {
		return err
	}
	// ErrAlreadyRevealed on a retry just means the reveal already
	// succeeded; continue to settlement.

	quote, err := s.getQuote(ctx, ti.TokenIn, ti.TokenOut, ti.AmountIn)
	if err != nil {
		return err
	}

	_, err = s.engine.Settle(ctx, ti.User, ti.Nonce, quote)
	return err
}

// classifyError decides whether an error warrants a settlement retry.
// Returns (shouldRetry, errorType).
func classifyError(err error) (bool, string) {
	switch {
	// Economic errors: retry with a fresh quote until expiry.
	case errors.Is(err, settlement.ErrSlippageExceeded):
		return true, "slippage_exceeded"
	case errors.Is(err, settlement.ErrFeeExceedsAmount):
		return true, "fee_exceeds_amount"

	// Protocol-integrity errors: malicious caller or client bug, never
	// retried internally.
	case errors.Is(err, protocol.ErrHashMismatch):
		return false, "hash_mismatch"
	case errors.Is(err, protocol.ErrInvalidSignature):
		return false, "invalid_signature"
	case errors.Is(err, protocol.ErrAlreadyRevealed):
		return false, "already_revealed"
	case errors.Is(err, protocol.ErrRetriesExhausted):
		return false, "retries_exhausted"
	case errors.Is(err, settlement.ErrRelayerFeeTooHigh):
		return false, "relayer_fee_too_high"

	// Timing errors: the caller must rebuild a fresh intent.
	case errors.Is(err, protocol.ErrIntentExpired):
		return false, "intent_expired"
	case errors.Is(err, protocol.ErrUnknownIntent):
		return false, "unknown_intent"
	case errors.Is(err, protocol.ErrAlreadyCancelled):
		return false, "cancelled"
	case errors.Is(err, protocol.ErrAlreadyExecuted):
		return false, "already_executed"
	}

	if isLedgerError(err) {
		return true, "ledger_failure"
	}

	// Quote provider hiccups and anything else network-shaped.
	return true, "external_error"
}

func isLedgerError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "ledger execution failed") ||
		strings.Contains(errStr, "transfer failed") ||
		strings.Contains(errStr, "reverted")
}

// Package protocol implements the commit-reveal state machine for trade
// intents: per-record lifecycle transitions guarded by the committed
// hash, the owner's signature, expiry and nonce uniqueness.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/logger"
	"github.com/unikron/relayer/pkg/metrics"
	"github.com/unikron/relayer/pkg/settlement"
	"github.com/unikron/relayer/pkg/signer"
)

// SettlementExecutor performs the external ledger transfers for an
// accepted settlement. A failure leaves the record Revealed so
// settlement can be retried; it must not be reported as Executed.
type SettlementExecutor interface {
	ExecuteSettlement(ctx context.Context, ti intent.TradeIntent, res settlement.Result) error
}

// Engine owns every SwapIntentRecord and is the only component allowed
// to mutate status and revealed. Expiry is evaluated lazily at the next
// read, reveal or settle; there is no background timer.
type Engine struct {
	calc *settlement.Calculator
	exec SettlementExecutor
	log  logger.Logger

	// settleAttemptBudget bounds calculator rejections per record before
	// the record is cancelled. Zero means retryable until expiry.
	settleAttemptBudget int

	mu      sync.RWMutex
	records map[Key]*record
	byID    map[string]*record

	now func() time.Time
}

// NewEngine creates a state machine engine. exec may be nil, in which
// case accepted settlements transition to Executed without external
// transfers (useful for tests and dry runs).
func NewEngine(calc *settlement.Calculator, exec SettlementExecutor, log logger.Logger, settleAttemptBudget int) *Engine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Engine{
		calc:                calc,
		exec:                exec,
		log:                 log,
		settleAttemptBudget: settleAttemptBudget,
		records:             make(map[Key]*record),
		byID:                make(map[string]*record),
		now:                 time.Now,
	}
}

// Commit records the hash of a hidden intent for (user, nonce). The full
// intent is not known at this point; only its digest, nonce and expiry
// are bookkept for the reveal window.
func (e *Engine) Commit(user intent.PubKey, nonce uint64, intentHash intent.Digest, expiry uint64) (string, error) {
	now := e.now()
	if expiry <= uint64(now.Unix()) {
		metrics.CommitsTotal.WithLabelValues("expiry_in_past").Inc()
		return "", fmt.Errorf("%w: expiry=%d now=%d", ErrExpiryInPast, expiry, now.Unix())
	}

	key := Key{User: user, Nonce: nonce}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.records[key]; ok {
		existing.mu.Lock()
		e.expireLocked(existing, now)
		live := !existing.status.terminal()
		existing.mu.Unlock()
		if live {
			metrics.CommitsTotal.WithLabelValues("nonce_reused").Inc()
			return "", fmt.Errorf("%w: nonce=%d", ErrNonceReused, nonce)
		}
		delete(e.byID, existing.id)
	}

	rec := &record{
		id:         uuid.New().String(),
		intentHash: intentHash,
		user:       user,
		nonce:      nonce,
		expiry:     expiry,
		timestamp:  now,
		status:     StatusCommitted,
	}
	e.records[key] = rec
	e.byID[rec.id] = rec

	metrics.CommitsTotal.WithLabelValues("success").Inc()
	metrics.LiveRecords.Inc()
	e.log.InfoWithPhase(logger.Commit, "committed intent %s nonce=%d expiry=%d hash=%s",
		rec.id, nonce, expiry, intentHash.Hex())
	return rec.id, nil
}

// Reveal discloses the full intent and its signature against a prior
// commitment. The intent must reproduce the committed hash bit-for-bit,
// the signature must verify over that hash under the intent owner's key,
// and the expiry must be strictly in the future.
func (e *Engine) Reveal(ti intent.TradeIntent, expectedHash intent.Digest, sig signer.Signature) error {
	rec, ok := e.lookup(Key{User: ti.User, Nonce: ti.Nonce})
	if !ok {
		metrics.RevealsTotal.WithLabelValues("unknown_intent").Inc()
		return fmt.Errorf("%w: nonce=%d", ErrUnknownIntent, ti.Nonce)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Replay guard first: a revealed record never accepts a second
	// reveal, regardless of signature validity.
	if rec.revealed {
		metrics.RevealsTotal.WithLabelValues("already_revealed").Inc()
		return ErrAlreadyRevealed
	}
	if rec.status == StatusCancelled {
		metrics.RevealsTotal.WithLabelValues("cancelled").Inc()
		return ErrAlreadyCancelled
	}

	now := e.now()
	e.expireLocked(rec, now)
	if rec.status == StatusExpired {
		metrics.RevealsTotal.WithLabelValues("expired").Inc()
		return fmt.Errorf("%w: expiry=%d now=%d", ErrIntentExpired, rec.expiry, now.Unix())
	}

	computed := intent.Hash(ti)
	if computed != expectedHash || rec.intentHash != expectedHash {
		metrics.RevealsTotal.WithLabelValues("hash_mismatch").Inc()
		e.log.ErrorWithPhase(logger.Reveal, "hash mismatch for intent %s: computed=%s expected=%s stored=%s",
			rec.id, computed.Hex(), expectedHash.Hex(), rec.intentHash.Hex())
		return ErrHashMismatch
	}

	// Strict boundary: an intent revealed at now == expiry is expired.
	if ti.Expiry <= uint64(now.Unix()) {
		metrics.RevealsTotal.WithLabelValues("expired").Inc()
		return fmt.Errorf("%w: expiry=%d now=%d", ErrIntentExpired, ti.Expiry, now.Unix())
	}

	if !signer.Verify(expectedHash, sig, ti.User) {
		metrics.RevealsTotal.WithLabelValues("invalid_signature").Inc()
		return ErrInvalidSignature
	}

	stored := ti
	rec.intent = &stored
	rec.revealed = true
	rec.status = StatusRevealed

	metrics.RevealsTotal.WithLabelValues("success").Inc()
	e.log.InfoWithPhase(logger.Reveal, "revealed intent %s nonce=%d amount_in=%d min_out=%d",
		rec.id, ti.Nonce, ti.AmountIn, ti.MinOut)
	return nil
}

// Cancel withdraws a commitment before reveal. Only the owner may
// cancel; cancelling a revealed or terminal record is a no-op error.
func (e *Engine) Cancel(caller intent.PubKey, user intent.PubKey, nonce uint64) error {
	rec, ok := e.lookup(Key{User: user, Nonce: nonce})
	if !ok {
		return fmt.Errorf("%w: nonce=%d", ErrUnknownIntent, nonce)
	}
	if caller != user {
		return ErrNotOwner
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	e.expireLocked(rec, e.now())

	switch {
	case rec.revealed:
		return ErrAlreadyRevealed
	case rec.status == StatusCancelled:
		return ErrAlreadyCancelled
	case rec.status == StatusExpired:
		return fmt.Errorf("%w: record already expired", ErrIntentExpired)
	}

	rec.status = StatusCancelled
	metrics.IntentsCancelled.Inc()
	metrics.LiveRecords.Dec()
	e.log.InfoWithPhase(logger.Cancel, "cancelled intent %s nonce=%d", rec.id, nonce)
	return nil
}

// Settle runs the settlement calculator on a revealed record and, on
// acceptance, the external ledger transfers. Economic rejections and
// ledger failures leave the record Revealed for retry; the record stays
// retryable until expiry, or until the attempt budget is spent.
func (e *Engine) Settle(ctx context.Context, user intent.PubKey, nonce uint64, quote settlement.RouteQuote) (settlement.Result, error) {
	rec, ok := e.lookup(Key{User: user, Nonce: nonce})
	if !ok {
		return settlement.Result{}, fmt.Errorf("%w: nonce=%d", ErrUnknownIntent, nonce)
	}
	return e.settleRecord(ctx, rec, quote)
}

// SettleByID is Settle addressed by the record identifier returned from
// Commit.
func (e *Engine) SettleByID(ctx context.Context, recordID string, quote settlement.RouteQuote) (settlement.Result, error) {
	e.mu.RLock()
	rec, ok := e.byID[recordID]
	e.mu.RUnlock()
	if !ok {
		return settlement.Result{}, fmt.Errorf("%w: id=%s", ErrUnknownIntent, recordID)
	}
	return e.settleRecord(ctx, rec, quote)
}

func (e *Engine) settleRecord(ctx context.Context, rec *record, quote settlement.RouteQuote) (settlement.Result, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.status {
	case StatusExecuted:
		return settlement.Result{}, ErrAlreadyExecuted
	case StatusCancelled:
		return settlement.Result{}, ErrAlreadyCancelled
	}

	now := e.now()
	e.expireLocked(rec, now)
	if rec.status == StatusExpired {
		return settlement.Result{}, fmt.Errorf("%w: expiry=%d now=%d", ErrIntentExpired, rec.expiry, now.Unix())
	}
	if rec.status != StatusRevealed || rec.intent == nil {
		return settlement.Result{}, ErrNotRevealed
	}

	res, err := e.calc.Settle(*rec.intent, quote)
	if err != nil {
		rec.settleAttempts++
		if errors.Is(err, settlement.ErrSlippageExceeded) {
			metrics.SlippageRejections.Inc()
		}
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()

		if e.settleAttemptBudget > 0 && rec.settleAttempts >= e.settleAttemptBudget {
			rec.status = StatusCancelled
			metrics.IntentsCancelled.Inc()
			metrics.LiveRecords.Dec()
			e.log.NoticeWithPhase(logger.Settle, "intent %s cancelled after %d settle attempts: %v",
				rec.id, rec.settleAttempts, err)
			return settlement.Result{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}

		e.log.DebugWithPhase(logger.Settle, "settle attempt %d for intent %s rejected: %v",
			rec.settleAttempts, rec.id, err)
		return settlement.Result{}, err
	}

	if e.exec != nil {
		if err := e.exec.ExecuteSettlement(ctx, *rec.intent, res); err != nil {
			// External failure: the record must stay Revealed so the
			// transfer can be retried or refunded by the caller.
			metrics.LedgerTransfers.WithLabelValues("failure").Inc()
			metrics.SettlementsTotal.WithLabelValues("ledger_failure").Inc()
			e.log.ErrorWithPhase(logger.Ledger, "ledger execution failed for intent %s: %v", rec.id, err)
			return settlement.Result{}, fmt.Errorf("ledger execution failed: %w", err)
		}
		metrics.LedgerTransfers.WithLabelValues("success").Inc()
	}

	stored := res
	rec.result = &stored
	rec.status = StatusExecuted

	metrics.SettlementsTotal.WithLabelValues("executed").Inc()
	metrics.LiveRecords.Dec()
	e.log.InfoWithPhase(logger.Settle, "executed intent %s: out=%d protocol_fee=%d relayer_fee=%d",
		rec.id, res.ExecutedOut, res.ProtocolFee, res.RelayerFee)
	return res, nil
}

// Record returns a snapshot of the record for (user, nonce), applying
// lazy expiry first.
func (e *Engine) Record(user intent.PubKey, nonce uint64) (RecordView, bool) {
	rec, ok := e.lookup(Key{User: user, Nonce: nonce})
	if !ok {
		return RecordView{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	e.expireLocked(rec, e.now())
	return rec.view(), true
}

// RecordByID returns a snapshot addressed by record identifier.
func (e *Engine) RecordByID(recordID string) (RecordView, bool) {
	e.mu.RLock()
	rec, ok := e.byID[recordID]
	e.mu.RUnlock()
	if !ok {
		return RecordView{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	e.expireLocked(rec, e.now())
	return rec.view(), true
}

// StatusCounts reports how many records occupy each lifecycle state.
// Used by the health server.
func (e *Engine) StatusCounts() map[string]int {
	e.mu.RLock()
	recs := make([]*record, 0, len(e.records))
	for _, rec := range e.records {
		recs = append(recs, rec)
	}
	e.mu.RUnlock()

	now := e.now()
	counts := make(map[string]int)
	for _, rec := range recs {
		rec.mu.Lock()
		e.expireLocked(rec, now)
		counts[rec.status.String()]++
		rec.mu.Unlock()
	}
	return counts
}

func (e *Engine) lookup(key Key) (*record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[key]
	return rec, ok
}

// expireLocked moves a live record past its expiry to Expired. Caller
// must hold rec.mu. Revealed-but-unsettled records expire too, per the
// retry-until-expiry settlement policy.
func (e *Engine) expireLocked(rec *record, now time.Time) {
	if rec.status.terminal() {
		return
	}
	if uint64(now.Unix()) >= rec.expiry {
		rec.status = StatusExpired
		metrics.IntentsExpired.Inc()
		metrics.LiveRecords.Dec()
		e.log.DebugWithPhase(logger.Expire, "intent %s expired (expiry=%d)", rec.id, rec.expiry)
	}
}

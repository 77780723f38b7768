// Package ledger provides the token transfer boundary settlement calls
// into, plus executors that turn an accepted settlement into the
// individual transfers it implies.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/logger"
	"github.com/unikron/relayer/pkg/settlement"
)

var (
	// ErrInsufficientBalance reports that the source account cannot cover
	// the transfer amount.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrUnknownAccount reports a transfer involving an account the
	// ledger has no mapping for.
	ErrUnknownAccount = errors.New("unknown ledger account")
)

// Ledger executes a single token transfer. Implementations are external
// systems (a chain, a test ledger); a failed transfer must leave the
// protocol record retryable, never half-applied from the caller's view.
type Ledger interface {
	Transfer(ctx context.Context, token intent.TokenID, from, to intent.PubKey, amount uint64) error
}

// FeeVaults names the accounts collected protocol fees are split into:
// 50% to liquidity stakers, 30% to the treasury and the remainder to
// the MEV bounty pool. A zero value disables distribution and fees stay
// with the collector.
type FeeVaults struct {
	Stakers  intent.PubKey
	Treasury intent.PubKey
	Bounty   intent.PubKey
}

func (v FeeVaults) enabled() bool {
	return v != (FeeVaults{})
}

// Executor applies an accepted settlement through a Ledger:
//
//	user    -> fee collector : protocol fee          (token_in)
//	user    -> relayer       : net input + relayer fee (token_in)
//	relayer -> user          : executed output        (token_out)
//
// With fee vaults configured the collected protocol fee is then split
// out of the collector. Executor satisfies the state machine's
// SettlementExecutor contract.
type Executor struct {
	ledger       Ledger
	feeCollector intent.PubKey
	vaults       FeeVaults
	log          logger.Logger
}

// NewExecutor creates a settlement executor transferring protocol fees
// to feeCollector and distributing them into vaults when configured.
func NewExecutor(l Ledger, feeCollector intent.PubKey, vaults FeeVaults, log logger.Logger) *Executor {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Executor{ledger: l, feeCollector: feeCollector, vaults: vaults, log: log}
}

// ExecuteSettlement runs the three transfers for a settlement result.
// The output leg runs first so a relayer that cannot deliver never takes
// custody of the input.
func (x *Executor) ExecuteSettlement(ctx context.Context, ti intent.TradeIntent, res settlement.Result) error {
	if err := x.ledger.Transfer(ctx, ti.TokenOut, ti.Relayer, ti.User, res.ExecutedOut); err != nil {
		return fmt.Errorf("output transfer failed: %w", err)
	}

	if res.ProtocolFee > 0 {
		if err := x.ledger.Transfer(ctx, ti.TokenIn, ti.User, x.feeCollector, res.ProtocolFee); err != nil {
			return fmt.Errorf("protocol fee transfer failed: %w", err)
		}
	}

	inToRelayer := res.NetIn + res.RelayerFee
	if err := x.ledger.Transfer(ctx, ti.TokenIn, ti.User, ti.Relayer, inToRelayer); err != nil {
		return fmt.Errorf("input transfer failed: %w", err)
	}

	if x.vaults.enabled() && res.ProtocolFee > 0 {
		if err := x.DistributeFees(ctx, ti.TokenIn, res.ProtocolFee); err != nil {
			return fmt.Errorf("fee distribution failed: %w", err)
		}
	}

	x.log.InfoWithPhase(logger.Ledger, "settlement transfers complete: out=%d fee=%d in=%d",
		res.ExecutedOut, res.ProtocolFee, inToRelayer)
	return nil
}

// DistributeFees splits a collected protocol fee out of the fee
// collector: 50% to the staker vault, 30% to the treasury and the
// remainder, including any rounding dust, to the bounty pool.
func (x *Executor) DistributeFees(ctx context.Context, token intent.TokenID, amount uint64) error {
	if amount == 0 {
		return errors.New("fee distribution amount must be positive")
	}
	if !x.vaults.enabled() {
		return errors.New("fee vaults not configured")
	}

	if amount > math.MaxUint64/50 {
		return errors.New("fee distribution amount overflows")
	}
	stakersFee := amount * 50 / 100
	treasuryFee := amount * 30 / 100
	bountyFee := amount - stakersFee - treasuryFee

	if stakersFee > 0 {
		if err := x.ledger.Transfer(ctx, token, x.feeCollector, x.vaults.Stakers, stakersFee); err != nil {
			return fmt.Errorf("staker share transfer failed: %w", err)
		}
	}
	if treasuryFee > 0 {
		if err := x.ledger.Transfer(ctx, token, x.feeCollector, x.vaults.Treasury, treasuryFee); err != nil {
			return fmt.Errorf("treasury share transfer failed: %w", err)
		}
	}
	if bountyFee > 0 {
		if err := x.ledger.Transfer(ctx, token, x.feeCollector, x.vaults.Bounty, bountyFee); err != nil {
			return fmt.Errorf("bounty share transfer failed: %w", err)
		}
	}

	x.log.InfoWithPhase(logger.Ledger, "fee distribution complete: stakers=%d treasury=%d bounty=%d",
		stakersFee, treasuryFee, bountyFee)
	return nil
}

package settlement

import (
	"errors"
	"fmt"

	"github.com/unikron/relayer/pkg/intent"
)

// Economic errors. The record stays Revealed when these are returned, so
// the caller may retry with a fresh quote.
var (
	ErrSlippageExceeded  = errors.New("slippage exceeded: quoted output below min_out")
	ErrFeeExceedsAmount  = errors.New("fees exceed input amount")
	ErrRelayerFeeTooHigh = errors.New("relayer fee too high")
	ErrMathOverflow      = errors.New("fee computation overflow")
)

// BpsDenominator is the basis-point denominator for fee math.
const BpsDenominator = 10000

// Result holds the amounts settlement resolved for each party.
type Result struct {
	// ExecutedOut is the output amount delivered to the user.
	ExecutedOut uint64
	// ProtocolFee is collected from the input amount, in token_in units.
	ProtocolFee uint64
	// RelayerFee compensates the relayer, in token_in units.
	RelayerFee uint64
	// NetIn is the input amount remaining after both fees.
	NetIn uint64
	// RouteHash fingerprints the route the quote described.
	RouteHash intent.Digest
}

// Calculator decides whether a verified, revealed intent settles against
// an external route quote. It is pure with respect to protocol state: it
// never mutates the intent record.
type Calculator struct {
	feeBps uint64
}

// NewCalculator creates a calculator charging feeBps basis points of
// amount_in as the protocol fee.
func NewCalculator(feeBps uint64) *Calculator {
	return &Calculator{feeBps: feeBps}
}

// FeeBps returns the configured protocol fee in basis points.
func (c *Calculator) FeeBps() uint64 {
	return c.feeBps
}

// Settle computes the settlement amounts for the intent given a route
// quote, or rejects with a typed economic error.
func (c *Calculator) Settle(ti intent.TradeIntent, quote RouteQuote) (Result, error) {
	actualOut := quote.ExpectedOut
	if actualOut < ti.MinOut {
		return Result{}, fmt.Errorf("%w: expected_out=%d min_out=%d", ErrSlippageExceeded, actualOut, ti.MinOut)
	}

	// Mirrors the on-chain bound: relayer compensation may not reach a
	// tenth of the input.
	if ti.RelayerFee >= ti.AmountIn/10 {
		return Result{}, fmt.Errorf("%w: relayer_fee=%d amount_in=%d", ErrRelayerFeeTooHigh, ti.RelayerFee, ti.AmountIn)
	}

	protocolFee, err := mulDivBps(ti.AmountIn, c.feeBps)
	if err != nil {
		return Result{}, err
	}

	totalFees := protocolFee + ti.RelayerFee
	if totalFees < protocolFee {
		return Result{}, ErrMathOverflow
	}
	if ti.AmountIn <= totalFees {
		return Result{}, fmt.Errorf("%w: amount_in=%d protocol_fee=%d relayer_fee=%d",
			ErrFeeExceedsAmount, ti.AmountIn, protocolFee, ti.RelayerFee)
	}

	return Result{
		ExecutedOut: actualOut,
		ProtocolFee: protocolFee,
		RelayerFee:  ti.RelayerFee,
		NetIn:       ti.AmountIn - totalFees,
		RouteHash:   quote.RouteHash(),
	}, nil
}

// mulDivBps computes amount * bps / 10000 with overflow detection.
func mulDivBps(amount, bps uint64) (uint64, error) {
	if bps == 0 {
		return 0, nil
	}
	product := amount * bps
	if product/bps != amount {
		return 0, ErrMathOverflow
	}
	return product / BpsDenominator, nil
}

package intent

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Validation errors returned by Build. These are caught before an intent
// ever reaches the commit-reveal state machine.
var (
	ErrInvalidAmount = errors.New("invalid amount: amount_in must be positive")
	ErrInvalidExpiry = errors.New("invalid expiry: must be strictly in the future")
	ErrSameToken     = errors.New("token_in and token_out must differ")
)

// BuildParams holds the swap parameters an intent is constructed from.
// MinOut is expected to be derived by the caller from a route quote plus
// a slippage tolerance. A zero Nonce requests an auto-generated one.
type BuildParams struct {
	User       PubKey
	TokenIn    TokenID
	TokenOut   TokenID
	AmountIn   uint64
	MinOut     uint64
	Expiry     uint64
	Relayer    PubKey
	RelayerFee uint64
	Nonce      uint64
}

// Build constructs a well-formed TradeIntent from swap parameters,
// validating amounts, expiry and token distinctness. The returned intent
// is ready for serialization and hashing.
func Build(params BuildParams) (TradeIntent, error) {
	return buildAt(params, time.Now())
}

// buildAt is split out so tests can pin the clock.
func buildAt(params BuildParams, now time.Time) (TradeIntent, error) {
	if params.AmountIn == 0 {
		return TradeIntent{}, ErrInvalidAmount
	}
	if params.Expiry <= uint64(now.Unix()) {
		return TradeIntent{}, fmt.Errorf("%w: expiry=%d now=%d", ErrInvalidExpiry, params.Expiry, now.Unix())
	}
	if params.TokenIn == params.TokenOut {
		return TradeIntent{}, ErrSameToken
	}

	nonce := params.Nonce
	if nonce == 0 {
		n, err := GenerateNonce()
		if err != nil {
			return TradeIntent{}, err
		}
		nonce = n
	}

	return TradeIntent{
		User:       params.User,
		Nonce:      nonce,
		Expiry:     params.Expiry,
		Relayer:    params.Relayer,
		RelayerFee: params.RelayerFee,
		TokenIn:    params.TokenIn,
		TokenOut:   params.TokenOut,
		AmountIn:   params.AmountIn,
		MinOut:     params.MinOut,
	}, nil
}

// GenerateNonce returns a random 64-bit nonce. The space is large enough
// that collisions between a user's in-flight intents are negligible; the
// state machine still re-checks uniqueness at commit time.
func GenerateNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %v", err)
	}
	n := binary.BigEndian.Uint64(b[:])
	if n == 0 {
		n = 1 // zero is reserved for "auto-generate"
	}
	return n, nil
}

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/settlement"
)

func acct(b byte) intent.PubKey {
	var pk intent.PubKey
	pk[0] = b
	return pk
}

func tok(b byte) intent.TokenID {
	var id intent.TokenID
	id[0] = b
	return id
}

// TestMemoryLedger tests the in-process ledger
func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("Mint and transfer", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(tok(1), acct(0xA), 1_000)

		require.NoError(t, l.Transfer(ctx, tok(1), acct(0xA), acct(0xB), 400))
		assert.Equal(t, uint64(600), l.Balance(tok(1), acct(0xA)))
		assert.Equal(t, uint64(400), l.Balance(tok(1), acct(0xB)))
	})

	t.Run("Insufficient balance leaves state untouched", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(tok(1), acct(0xA), 100)

		err := l.Transfer(ctx, tok(1), acct(0xA), acct(0xB), 101)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, uint64(100), l.Balance(tok(1), acct(0xA)))
		assert.Zero(t, l.Balance(tok(1), acct(0xB)))
	})

	t.Run("Balances are per token", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(tok(1), acct(0xA), 100)

		err := l.Transfer(ctx, tok(2), acct(0xA), acct(0xB), 50)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

// TestExecutor tests settlement transfer orchestration
func TestExecutor(t *testing.T) {
	ctx := context.Background()

	user := acct(0x01)
	relayer := acct(0x02)
	collector := acct(0x03)
	tokenIn := tok(0x10)
	tokenOut := tok(0x20)

	swap := intent.TradeIntent{
		User:       user,
		Relayer:    relayer,
		RelayerFee: 100,
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		AmountIn:   1_000_000,
		MinOut:     990_000,
	}

	res := settlement.Result{
		ExecutedOut: 995_000,
		ProtocolFee: 300,
		RelayerFee:  100,
		NetIn:       999_600,
	}

	t.Run("All three transfers apply", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(tokenIn, user, swap.AmountIn)
		l.Mint(tokenOut, relayer, res.ExecutedOut)

		x := NewExecutor(l, collector, FeeVaults{}, nil)
		require.NoError(t, x.ExecuteSettlement(ctx, swap, res))

		assert.Equal(t, res.ExecutedOut, l.Balance(tokenOut, user))
		assert.Zero(t, l.Balance(tokenOut, relayer))
		assert.Equal(t, res.ProtocolFee, l.Balance(tokenIn, collector))
		assert.Equal(t, res.NetIn+res.RelayerFee, l.Balance(tokenIn, relayer))
		assert.Zero(t, l.Balance(tokenIn, user))
	})

	t.Run("Relayer short on output aborts before touching input", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(tokenIn, user, swap.AmountIn)
		// Relayer cannot deliver the output leg.
		l.Mint(tokenOut, relayer, res.ExecutedOut-1)

		x := NewExecutor(l, collector, FeeVaults{}, nil)
		err := x.ExecuteSettlement(ctx, swap, res)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		// The user's input never moved.
		assert.Equal(t, swap.AmountIn, l.Balance(tokenIn, user))
		assert.Zero(t, l.Balance(tokenIn, collector))
	})

	t.Run("Zero protocol fee skips the fee leg", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(tokenIn, user, swap.AmountIn)
		l.Mint(tokenOut, relayer, res.ExecutedOut)

		freeRes := res
		freeRes.ProtocolFee = 0
		freeRes.NetIn = swap.AmountIn - freeRes.RelayerFee

		x := NewExecutor(l, collector, FeeVaults{}, nil)
		require.NoError(t, x.ExecuteSettlement(ctx, swap, freeRes))
		assert.Zero(t, l.Balance(tokenIn, collector))
	})
}

// stubLedger records which token each transfer moved so tests can
// assert call ordering.
type stubLedger struct {
	calls  []byte
	failAt int
}

func (s *stubLedger) Transfer(_ context.Context, token intent.TokenID, from, to intent.PubKey, amount uint64) error {
	s.calls = append(s.calls, token[0])
	if len(s.calls) == s.failAt {
		return errors.New("transfer rejected")
	}
	return nil
}

// TestExecutorOrdering checks the output leg runs first
func TestExecutorOrdering(t *testing.T) {
	swap := intent.TradeIntent{
		User:     acct(0x01),
		Relayer:  acct(0x02),
		TokenIn:  tok(0x10),
		TokenOut: tok(0x20),
		AmountIn: 1_000,
	}
	res := settlement.Result{ExecutedOut: 990, ProtocolFee: 3, NetIn: 997}

	s := &stubLedger{}
	x := NewExecutor(s, acct(0x03), FeeVaults{}, nil)
	require.NoError(t, x.ExecuteSettlement(context.Background(), swap, res))

	require.Len(t, s.calls, 3)
	assert.Equal(t, byte(0x20), s.calls[0], "output leg must run before the input legs")
	assert.Equal(t, byte(0x10), s.calls[1])
	assert.Equal(t, byte(0x10), s.calls[2])
}

// TestDistributeFees tests the 50/30/20 fee split into the vaults
func TestDistributeFees(t *testing.T) {
	ctx := context.Background()
	collector := acct(0x03)
	vaults := FeeVaults{Stakers: acct(0x04), Treasury: acct(0x05), Bounty: acct(0x06)}
	token := tok(0x10)

	t.Run("Even amount splits cleanly", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(token, collector, 1_000)

		x := NewExecutor(l, collector, vaults, nil)
		require.NoError(t, x.DistributeFees(ctx, token, 1_000))

		assert.Equal(t, uint64(500), l.Balance(token, vaults.Stakers))
		assert.Equal(t, uint64(300), l.Balance(token, vaults.Treasury))
		assert.Equal(t, uint64(200), l.Balance(token, vaults.Bounty))
		assert.Zero(t, l.Balance(token, collector))
	})

	t.Run("Rounding dust lands in the bounty pool", func(t *testing.T) {
		l := NewMemoryLedger()
		l.Mint(token, collector, 101)

		x := NewExecutor(l, collector, vaults, nil)
		require.NoError(t, x.DistributeFees(ctx, token, 101))

		assert.Equal(t, uint64(50), l.Balance(token, vaults.Stakers))
		assert.Equal(t, uint64(30), l.Balance(token, vaults.Treasury))
		assert.Equal(t, uint64(21), l.Balance(token, vaults.Bounty))
	})

	t.Run("Zero amount rejected", func(t *testing.T) {
		x := NewExecutor(NewMemoryLedger(), collector, vaults, nil)
		assert.Error(t, x.DistributeFees(ctx, token, 0))
	})

	t.Run("Unconfigured vaults rejected", func(t *testing.T) {
		x := NewExecutor(NewMemoryLedger(), collector, FeeVaults{}, nil)
		assert.Error(t, x.DistributeFees(ctx, token, 100))
	})

	t.Run("Settlement with vaults forwards the fee", func(t *testing.T) {
		user, relayer := acct(0x01), acct(0x02)
		tokenOut := tok(0x20)
		swap := intent.TradeIntent{
			User:       user,
			Relayer:    relayer,
			RelayerFee: 100,
			TokenIn:    token,
			TokenOut:   tokenOut,
			AmountIn:   1_000_000,
			MinOut:     990_000,
		}
		res := settlement.Result{
			ExecutedOut: 995_000,
			ProtocolFee: 3_000,
			RelayerFee:  100,
			NetIn:       996_900,
		}

		l := NewMemoryLedger()
		l.Mint(token, user, swap.AmountIn)
		l.Mint(tokenOut, relayer, res.ExecutedOut)

		x := NewExecutor(l, collector, vaults, nil)
		require.NoError(t, x.ExecuteSettlement(ctx, swap, res))

		// The collector is a pass-through when vaults are configured.
		assert.Zero(t, l.Balance(token, collector))
		assert.Equal(t, uint64(1_500), l.Balance(token, vaults.Stakers))
		assert.Equal(t, uint64(900), l.Balance(token, vaults.Treasury))
		assert.Equal(t, uint64(600), l.Balance(token, vaults.Bounty))
	})
}

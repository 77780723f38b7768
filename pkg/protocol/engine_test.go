package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/settlement"
	"github.com/unikron/relayer/pkg/signer"
)

var baseTime = time.Unix(1_700_000_000, 0)

// failingExecutor simulates a ledger outage.
type failingExecutor struct {
	calls int
	err   error
}

func (f *failingExecutor) ExecuteSettlement(_ context.Context, _ intent.TradeIntent, _ settlement.Result) error {
	f.calls++
	return f.err
}

// testEnv bundles an engine with a pinned clock and a signing user.
type testEnv struct {
	engine *Engine
	user   *signer.KeyPair
	now    time.Time
}

func newTestEnv(t *testing.T, exec SettlementExecutor, budget int) *testEnv {
	t.Helper()

	user, err := signer.GenerateKeyPair()
	require.NoError(t, err)

	env := &testEnv{
		engine: NewEngine(settlement.NewCalculator(30), exec, nil, budget),
		user:   user,
		now:    baseTime,
	}
	env.engine.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) intent(nonce uint64) intent.TradeIntent {
	var tokenIn, tokenOut intent.TokenID
	tokenIn[0] = 0x01
	tokenOut[0] = 0x02

	return intent.TradeIntent{
		User:       env.user.PubKey(),
		Nonce:      nonce,
		Expiry:     uint64(env.now.Unix()) + 300,
		RelayerFee: 100,
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		AmountIn:   1_000_000,
		MinOut:     990_000,
	}
}

// commit registers the intent's digest and returns it with the signature.
func (env *testEnv) commit(t *testing.T, ti intent.TradeIntent) (intent.Digest, signer.Signature) {
	t.Helper()
	digest := intent.Hash(ti)
	_, err := env.engine.Commit(ti.User, ti.Nonce, digest, ti.Expiry)
	require.NoError(t, err)
	return digest, env.user.Sign(digest)
}

func goodQuote(ti intent.TradeIntent) settlement.RouteQuote {
	return settlement.RouteQuote{ExpectedOut: ti.MinOut + 5_000, RouteDescription: "direct"}
}

// TestCommit tests commitment registration
func TestCommit(t *testing.T) {
	t.Run("Valid commit", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)

		id, err := env.engine.Commit(ti.User, ti.Nonce, intent.Hash(ti), ti.Expiry)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		view, ok := env.engine.Record(ti.User, ti.Nonce)
		require.True(t, ok)
		assert.Equal(t, StatusCommitted, view.Status)
		assert.False(t, view.Revealed)
	})

	t.Run("Expiry at now rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)

		_, err := env.engine.Commit(ti.User, ti.Nonce, intent.Hash(ti), uint64(env.now.Unix()))
		assert.ErrorIs(t, err, ErrExpiryInPast)
	})

	t.Run("Nonce reuse while live rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		_, err := env.engine.Commit(ti.User, ti.Nonce, intent.Hash(ti), ti.Expiry)
		assert.ErrorIs(t, err, ErrNonceReused)
	})

	t.Run("Nonce reusable after expiry", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		env.advance(301 * time.Second)

		fresh := env.intent(1)
		_, err := env.engine.Commit(fresh.User, fresh.Nonce, intent.Hash(fresh), fresh.Expiry)
		assert.NoError(t, err)
	})

	t.Run("Same nonce for different users allowed", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		other, err := signer.GenerateKeyPair()
		require.NoError(t, err)

		_, err = env.engine.Commit(other.PubKey(), ti.Nonce, intent.Hash(ti), ti.Expiry)
		assert.NoError(t, err)
	})
}

// TestReveal tests intent disclosure and verification
func TestReveal(t *testing.T) {
	t.Run("Valid reveal", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)

		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		view, ok := env.engine.Record(ti.User, ti.Nonce)
		require.True(t, ok)
		assert.Equal(t, StatusRevealed, view.Status)
		assert.True(t, view.Revealed)
		require.NotNil(t, view.Intent)
		assert.Equal(t, ti, *view.Intent)
	})

	t.Run("Unknown intent", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest := intent.Hash(ti)

		err := env.engine.Reveal(ti, digest, env.user.Sign(digest))
		assert.ErrorIs(t, err, ErrUnknownIntent)
	})

	t.Run("Tampered field yields hash mismatch", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)

		tampered := ti
		tampered.MinOut--

		err := env.engine.Reveal(tampered, digest, sig)
		assert.ErrorIs(t, err, ErrHashMismatch)

		// The record is untouched and still revealable.
		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusCommitted, view.Status)
		assert.NoError(t, env.engine.Reveal(ti, digest, sig))
	})

	t.Run("Expected hash differing from stored yields hash mismatch", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		wrong := intent.HashBytes([]byte("some other digest"))
		err := env.engine.Reveal(ti, wrong, env.user.Sign(wrong))
		assert.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("Invalid signature leaves record committed", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, _ := env.commit(t, ti)

		stranger, err := signer.GenerateKeyPair()
		require.NoError(t, err)

		err = env.engine.Reveal(ti, digest, stranger.Sign(digest))
		assert.ErrorIs(t, err, ErrInvalidSignature)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusCommitted, view.Status)
		assert.False(t, view.Revealed)

		// The correct signature still goes through afterwards.
		assert.NoError(t, env.engine.Reveal(ti, digest, env.user.Sign(digest)))
	})

	t.Run("Owner signature over a different digest rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, _ := env.commit(t, ti)

		other := intent.HashBytes([]byte("unrelated digest"))
		err := env.engine.Reveal(ti, digest, env.user.Sign(other))
		assert.ErrorIs(t, err, ErrInvalidSignature)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusCommitted, view.Status)
	})

	t.Run("Second reveal rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)

		require.NoError(t, env.engine.Reveal(ti, digest, sig))
		assert.ErrorIs(t, env.engine.Reveal(ti, digest, sig), ErrAlreadyRevealed)
	})

	t.Run("Reveal at expiry rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)

		// Strict boundary: now == expiry is already expired.
		env.advance(300 * time.Second)
		assert.ErrorIs(t, env.engine.Reveal(ti, digest, sig), ErrIntentExpired)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusExpired, view.Status)
	})

	t.Run("Reveal one second before expiry accepted", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)

		env.advance(299 * time.Second)
		assert.NoError(t, env.engine.Reveal(ti, digest, sig))
	})

	t.Run("Reveal after cancel rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)

		require.NoError(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce))
		assert.ErrorIs(t, env.engine.Reveal(ti, digest, sig), ErrAlreadyCancelled)
	})
}

// TestCancel tests owner withdrawal of commitments
func TestCancel(t *testing.T) {
	t.Run("Owner cancels committed record", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		require.NoError(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce))

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusCancelled, view.Status)
	})

	t.Run("Non-owner rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		stranger, err := signer.GenerateKeyPair()
		require.NoError(t, err)

		assert.ErrorIs(t, env.engine.Cancel(stranger.PubKey(), ti.User, ti.Nonce), ErrNotOwner)
	})

	t.Run("Revealed record not cancellable", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		assert.ErrorIs(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce), ErrAlreadyRevealed)
	})

	t.Run("Double cancel rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		require.NoError(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce))
		assert.ErrorIs(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce), ErrAlreadyCancelled)
	})

	t.Run("Expired record not cancellable", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		env.advance(300 * time.Second)
		assert.ErrorIs(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce), ErrIntentExpired)
	})
}

// TestSettle tests the settlement transition
func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("Executed on acceptance", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		res, err := env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		require.NoError(t, err)
		assert.Equal(t, ti.MinOut+5_000, res.ExecutedOut)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusExecuted, view.Status)
		require.NotNil(t, view.Result)
		assert.Equal(t, res, *view.Result)
	})

	t.Run("Quote at exact min_out executes", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		res, err := env.engine.Settle(ctx, ti.User, ti.Nonce, settlement.RouteQuote{ExpectedOut: ti.MinOut})
		require.NoError(t, err)
		assert.Equal(t, ti.MinOut, res.ExecutedOut)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusExecuted, view.Status)
	})

	t.Run("Settle before reveal rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		env.commit(t, ti)

		_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		assert.ErrorIs(t, err, ErrNotRevealed)
	})

	t.Run("Slippage keeps record revealed for retry", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		bad := settlement.RouteQuote{ExpectedOut: ti.MinOut - 1}
		_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, bad)
		assert.ErrorIs(t, err, settlement.ErrSlippageExceeded)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusRevealed, view.Status)
		assert.Equal(t, 1, view.SettleAttempts)

		// A better quote settles on retry.
		_, err = env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		assert.NoError(t, err)
	})

	t.Run("Attempt budget exhaustion cancels", func(t *testing.T) {
		env := newTestEnv(t, nil, 2)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		bad := settlement.RouteQuote{ExpectedOut: ti.MinOut - 1}

		_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, bad)
		assert.ErrorIs(t, err, settlement.ErrSlippageExceeded)

		_, err = env.engine.Settle(ctx, ti.User, ti.Nonce, bad)
		assert.ErrorIs(t, err, ErrRetriesExhausted)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusCancelled, view.Status)

		_, err = env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	})

	t.Run("Zero budget retries indefinitely", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		bad := settlement.RouteQuote{ExpectedOut: ti.MinOut - 1}
		for i := 0; i < 10; i++ {
			_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, bad)
			assert.ErrorIs(t, err, settlement.ErrSlippageExceeded)
		}

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusRevealed, view.Status)
	})

	t.Run("Executor failure keeps record revealed", func(t *testing.T) {
		exec := &failingExecutor{err: errors.New("rpc connection refused")}
		env := newTestEnv(t, exec, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		require.Error(t, err)
		assert.Equal(t, 1, exec.calls)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusRevealed, view.Status)

		// The next attempt succeeds once the ledger recovers.
		exec.err = nil
		_, err = env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		assert.NoError(t, err)
	})

	t.Run("Double settle rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		require.NoError(t, err)

		_, err = env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		assert.ErrorIs(t, err, ErrAlreadyExecuted)
	})

	t.Run("Settle past expiry rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)
		digest, sig := env.commit(t, ti)
		require.NoError(t, env.engine.Reveal(ti, digest, sig))

		env.advance(300 * time.Second)

		_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
		assert.ErrorIs(t, err, ErrIntentExpired)

		view, _ := env.engine.Record(ti.User, ti.Nonce)
		assert.Equal(t, StatusExpired, view.Status)
	})

	t.Run("SettleByID matches Settle", func(t *testing.T) {
		env := newTestEnv(t, nil, 0)
		ti := env.intent(1)

		digest := intent.Hash(ti)
		id, err := env.engine.Commit(ti.User, ti.Nonce, digest, ti.Expiry)
		require.NoError(t, err)
		require.NoError(t, env.engine.Reveal(ti, digest, env.user.Sign(digest)))

		res, err := env.engine.SettleByID(ctx, id, goodQuote(ti))
		require.NoError(t, err)
		assert.NotZero(t, res.ExecutedOut)

		view, ok := env.engine.RecordByID(id)
		require.True(t, ok)
		assert.Equal(t, StatusExecuted, view.Status)
	})
}

// TestStatusCounts tests the health snapshot
func TestStatusCounts(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	ctx := context.Background()

	// One committed, one revealed, one executed, one cancelled.
	for nonce := uint64(1); nonce <= 4; nonce++ {
		ti := env.intent(nonce)
		digest, sig := env.commit(t, ti)

		switch nonce {
		case 2:
			require.NoError(t, env.engine.Reveal(ti, digest, sig))
		case 3:
			require.NoError(t, env.engine.Reveal(ti, digest, sig))
			_, err := env.engine.Settle(ctx, ti.User, ti.Nonce, goodQuote(ti))
			require.NoError(t, err)
		case 4:
			require.NoError(t, env.engine.Cancel(ti.User, ti.User, ti.Nonce))
		}
	}

	counts := env.engine.StatusCounts()
	assert.Equal(t, 1, counts["committed"])
	assert.Equal(t, 1, counts["revealed"])
	assert.Equal(t, 1, counts["executed"])
	assert.Equal(t, 1, counts["cancelled"])

	// Advancing the clock expires the non-terminal records lazily.
	env.advance(301 * time.Second)
	counts = env.engine.StatusCounts()
	assert.Equal(t, 2, counts["expired"])
	assert.Equal(t, 1, counts["executed"])
	assert.Equal(t, 1, counts["cancelled"])
}

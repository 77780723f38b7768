package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unikron/relayer/pkg/intent"
)

func pairToken(b byte) intent.TokenID {
	var id intent.TokenID
	id[0] = b
	return id
}

// TestRouteHash tests route fingerprinting
func TestRouteHash(t *testing.T) {
	t.Run("Stable for equal descriptions", func(t *testing.T) {
		a := RouteQuote{RouteDescription: "SOL>USDC via orca"}
		b := RouteQuote{RouteDescription: "SOL>USDC via orca", ExpectedOut: 999}

		// Only the description feeds the fingerprint.
		assert.Equal(t, a.RouteHash(), b.RouteHash())
	})

	t.Run("Distinct routes fingerprint differently", func(t *testing.T) {
		a := RouteQuote{RouteDescription: "SOL>USDC via orca"}
		b := RouteQuote{RouteDescription: "SOL>USDC via raydium"}

		assert.NotEqual(t, a.RouteHash(), b.RouteHash())
	})

	t.Run("Empty route hashes without panic", func(t *testing.T) {
		var q RouteQuote
		assert.NotPanics(t, func() { q.RouteHash() })
	})
}

// TestQuoteCache tests the TTL quote cache
func TestQuoteCache(t *testing.T) {
	t.Run("NewQuoteCache", func(t *testing.T) {
		ttl := 30 * time.Second
		cache := NewQuoteCache(ttl)

		require.NotNil(t, cache)
		assert.Equal(t, ttl, cache.cacheTTL)
		assert.NotNil(t, cache.cache)
	})

	t.Run("Set and Get", func(t *testing.T) {
		cache := NewQuoteCache(1 * time.Second)
		quote := RouteQuote{ExpectedOut: 995_000, RouteDescription: "direct"}

		cache.Set(pairToken(1), pairToken(2), 1_000_000, quote)

		got, found := cache.Get(pairToken(1), pairToken(2), 1_000_000)
		assert.True(t, found)
		assert.Equal(t, quote, got)

		// Different amount misses
		_, found = cache.Get(pairToken(1), pairToken(2), 2_000_000)
		assert.False(t, found)

		// Reversed pair misses
		_, found = cache.Get(pairToken(2), pairToken(1), 1_000_000)
		assert.False(t, found)
	})

	t.Run("TTL expiration", func(t *testing.T) {
		cache := NewQuoteCache(10 * time.Millisecond)
		cache.Set(pairToken(1), pairToken(2), 100, RouteQuote{ExpectedOut: 99})

		_, found := cache.Get(pairToken(1), pairToken(2), 100)
		assert.True(t, found)

		time.Sleep(20 * time.Millisecond)

		_, found = cache.Get(pairToken(1), pairToken(2), 100)
		assert.False(t, found)
	})

	t.Run("Clear", func(t *testing.T) {
		cache := NewQuoteCache(1 * time.Second)
		cache.Set(pairToken(1), pairToken(2), 100, RouteQuote{ExpectedOut: 99})
		cache.Set(pairToken(3), pairToken(4), 200, RouteQuote{ExpectedOut: 198})

		cache.Clear()

		_, found := cache.Get(pairToken(1), pairToken(2), 100)
		assert.False(t, found)
		_, found = cache.Get(pairToken(3), pairToken(4), 200)
		assert.False(t, found)
	})
}

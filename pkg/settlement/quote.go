package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/unikron/relayer/pkg/intent"
)

// RouteQuote is the output estimate supplied by an external routing
// service for a given input amount.
type RouteQuote struct {
	ExpectedOut      uint64 `json:"expected_out"`
	MinOutSuggestion uint64 `json:"min_out_suggestion"`
	RouteDescription string `json:"route_description"`
	PriceImpactBps   uint64 `json:"price_impact_bps"`
}

// RouteHash fingerprints the route description so logs and settlement
// results can reference a stable route identity.
func (q RouteQuote) RouteHash() intent.Digest {
	var d intent.Digest
	h := blake3.New()
	h.Write([]byte(q.RouteDescription))
	copy(d[:], h.Sum(nil))
	return d
}

// QuoteProvider fetches route quotes from an external service. The core
// treats it as a black box and never retries or caches it itself.
type QuoteProvider interface {
	GetQuote(ctx context.Context, tokenIn, tokenOut intent.TokenID, amountIn uint64) (RouteQuote, error)
}

// quoteCacheKey identifies a cached quote by pair and input amount.
type quoteCacheKey struct {
	TokenIn  intent.TokenID
	TokenOut intent.TokenID
	AmountIn uint64
}

// cachedQuote is a quote with its fetch timestamp.
type cachedQuote struct {
	quote     RouteQuote
	timestamp time.Time
}

// QuoteCache is an explicitly constructed TTL cache for route quotes.
// Callers that want caching inject one; there is no process-wide instance.
type QuoteCache struct {
	mu       sync.RWMutex
	cache    map[quoteCacheKey]*cachedQuote
	cacheTTL time.Duration
}

// NewQuoteCache creates a quote cache with the given TTL.
func NewQuoteCache(cacheTTL time.Duration) *QuoteCache {
	return &QuoteCache{
		cache:    make(map[quoteCacheKey]*cachedQuote),
		cacheTTL: cacheTTL,
	}
}

// Get returns a cached quote if one is still within its TTL.
func (c *QuoteCache) Get(tokenIn, tokenOut intent.TokenID, amountIn uint64) (RouteQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[quoteCacheKey{tokenIn, tokenOut, amountIn}]
	if !exists {
		return RouteQuote{}, false
	}
	if time.Since(cached.timestamp) > c.cacheTTL {
		return RouteQuote{}, false
	}
	return cached.quote, true
}

// Set stores a quote with the current timestamp.
func (c *QuoteCache) Set(tokenIn, tokenOut intent.TokenID, amountIn uint64, quote RouteQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[quoteCacheKey{tokenIn, tokenOut, amountIn}] = &cachedQuote{
		quote:     quote,
		timestamp: time.Now(),
	}
}

// Clear removes all cached quotes.
func (c *QuoteCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[quoteCacheKey]*cachedQuote)
}

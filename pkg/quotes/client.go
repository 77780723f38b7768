// Package quotes provides a client for the external route-quote service.
// The core treats the service as a black box returning an output estimate
// for a requested pair and amount.
package quotes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/logger"
	"github.com/unikron/relayer/pkg/settlement"
)

// quoteResponse represents the structure of the quote API response
type quoteResponse struct {
	ExpectedOut      uint64 `json:"expected_out"`
	MinOutSuggestion uint64 `json:"min_out_suggestion"`
	RouteDescription string `json:"route_description"`
	PriceImpactBps   uint64 `json:"price_impact_bps"`
}

// Client fetches route quotes over HTTP. It implements
// settlement.QuoteProvider. No retries and no caching here; callers own
// both.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

var _ settlement.QuoteProvider = (*Client)(nil)

// New creates a new quote API client
func New(endpoint string, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// GetQuote fetches a route quote for swapping amountIn of tokenIn into
// tokenOut.
func (c *Client) GetQuote(ctx context.Context, tokenIn, tokenOut intent.TokenID, amountIn uint64) (settlement.RouteQuote, error) {
	url := fmt.Sprintf("%s/api/v1/quote?token_in=%s&token_out=%s&amount_in=%d",
		c.endpoint, hex.EncodeToString(tokenIn[:]), hex.EncodeToString(tokenOut[:]), amountIn)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return settlement.RouteQuote{}, fmt.Errorf("failed to build quote request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return settlement.RouteQuote{}, fmt.Errorf("failed to fetch quote: %v", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return settlement.RouteQuote{}, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return settlement.RouteQuote{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var qr quoteResponse
	if err := json.Unmarshal(bodyBytes, &qr); err != nil {
		return settlement.RouteQuote{}, fmt.Errorf("failed to decode quote: %v, body: %s", err, string(bodyBytes))
	}

	if qr.ExpectedOut == 0 {
		return settlement.RouteQuote{}, fmt.Errorf("quote service returned no output for amount_in=%d", amountIn)
	}

	return settlement.RouteQuote{
		ExpectedOut:      qr.ExpectedOut,
		MinOutSuggestion: qr.MinOutSuggestion,
		RouteDescription: qr.RouteDescription,
		PriceImpactBps:   qr.PriceImpactBps,
	}, nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

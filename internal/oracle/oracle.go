// Package oracle implements the HTTP price-oracle client backing the Price
// Resolver's Oracle(query) source: a single GetRate-style method returning
// a typed quote, with oracle failures surfaced as errors rather than
// panics, against the HTTP shape GET <endpoint>?... -> {coin: {quote: number}}.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Client resolves a coin/quote pair against a configured HTTP oracle
// endpoint. A returned error means the caller must skip this iteration —
// the Price Resolver is the layer that turns this error into NaN for
// policy code.
type Client interface {
	Price(ctx context.Context, coin, quote string) (float64, error)
}

// DefaultBaseURL is the CoinGecko simple-price endpoint the `oracle_api_key`
// config field (sent as the `x_cg_api_key` query parameter) implies; config
// carries only the API key, not the endpoint, so the base is fixed here.
const DefaultBaseURL = "https://api.coingecko.com/api/v3/simple/price"

// HTTPClient queries an oracle endpoint of the shape
// GET <base>?ids=<coin>&vs_currencies=<quote>&x_cg_api_key=<key> returning
// {"<coin>": {"<quote>": <number>}}.
type HTTPClient struct {
	base    string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient constructs an oracle client. apiKey may be empty when the
// endpoint requires none.
func NewHTTPClient(base, apiKey string) *HTTPClient {
	return &HTTPClient{
		base:   base,
		apiKey: apiKey,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(3), 3),
	}
}

func (c *HTTPClient) Price(ctx context.Context, coin, quote string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("oracle: rate limiter: %w", err)
	}
	u, err := url.Parse(c.base)
	if err != nil {
		return 0, fmt.Errorf("oracle: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ids", coin)
	q.Set("vs_currencies", quote)
	if c.apiKey != "" {
		q.Set("x_cg_api_key", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: status %d: %s", resp.StatusCode, string(data))
	}

	var body map[string]map[string]float64
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("oracle: decode response: %w", err)
	}
	coinBody, ok := body[coin]
	if !ok {
		return 0, fmt.Errorf("oracle: response missing coin %q", coin)
	}
	price, ok := coinBody[quote]
	if !ok {
		return 0, fmt.Errorf("oracle: response missing quote %q for coin %q", quote, coin)
	}
	return price, nil
}

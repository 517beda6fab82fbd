// Package subgraph implements the thin GraphQL query client for the
// external subgraph indexer. Every call is traced with otelhttp and
// rate-limited so that scanning many configured pools never bursts the
// indexer.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// LoanCandidate is a subgraph-reported loan, sorted by descending
// threshold price.
type LoanCandidate struct {
	Borrower       common.Address
	ThresholdPrice float64
}

// AuctionCandidate is a subgraph-reported active or unsettled auction.
type AuctionCandidate struct {
	Borrower common.Address
	KickTime int64
}

// Client queries the lending protocol's subgraph deployment.
type Client interface {
	// LoansByDescendingThresholdPrice returns kickable candidates for a
	// pool.
	LoansByDescendingThresholdPrice(ctx context.Context, pool common.Address) ([]LoanCandidate, error)
	// ActiveAuctions returns auctions currently in the "taking" phase.
	ActiveAuctions(ctx context.Context, pool common.Address) ([]AuctionCandidate, error)
	// UnsettledAuctions returns auctions the subgraph has not yet observed
	// as removed. Subgraph state is a starting point only; on-chain
	// inspection is authoritative.
	UnsettledAuctions(ctx context.Context, pool common.Address) ([]AuctionCandidate, error)
}

// HTTPClient is a graphql-over-HTTP subgraph client.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewHTTPClient constructs a subgraph client against the configured
// endpoint, throttled to at most 5 queries/sec with a burst of 5 so a
// many-pool scan cannot hammer the indexer in one scheduler tick.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *HTTPClient) query(ctx context.Context, q string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("subgraph: rate limiter: %w", err)
	}
	body, err := json.Marshal(graphqlRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("subgraph: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("subgraph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("subgraph: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subgraph: status %d: %s", resp.StatusCode, string(data))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("subgraph: decode envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph: query error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *HTTPClient) LoansByDescendingThresholdPrice(ctx context.Context, pool common.Address) ([]LoanCandidate, error) {
	var out struct {
		Loans []struct {
			Borrower       string  `json:"borrower"`
			ThresholdPrice float64 `json:"thresholdPrice,string"`
		} `json:"loans"`
	}
	vars := map[string]any{"pool": pool.Hex()}
	query := `query($pool: String!) { loans(where: {pool: $pool}, orderBy: thresholdPrice, orderDirection: desc) { borrower thresholdPrice } }`
	if err := c.query(ctx, query, vars, &out); err != nil {
		return nil, err
	}
	result := make([]LoanCandidate, 0, len(out.Loans))
	for _, l := range out.Loans {
		result = append(result, LoanCandidate{
			Borrower:       common.HexToAddress(l.Borrower),
			ThresholdPrice: l.ThresholdPrice,
		})
	}
	return result, nil
}

func (c *HTTPClient) ActiveAuctions(ctx context.Context, pool common.Address) ([]AuctionCandidate, error) {
	return c.auctions(ctx, pool, `query($pool: String!) { liquidationAuctions(where: {pool: $pool, settled: false}) { borrower kickTime } }`)
}

func (c *HTTPClient) UnsettledAuctions(ctx context.Context, pool common.Address) ([]AuctionCandidate, error) {
	return c.auctions(ctx, pool, `query($pool: String!) { liquidationAuctions(where: {pool: $pool, settled: false, collateralRemaining: "0"}) { borrower kickTime } }`)
}

func (c *HTTPClient) auctions(ctx context.Context, pool common.Address, query string) ([]AuctionCandidate, error) {
	var out struct {
		LiquidationAuctions []struct {
			Borrower string `json:"borrower"`
			KickTime int64  `json:"kickTime,string"`
		} `json:"liquidationAuctions"`
	}
	vars := map[string]any{"pool": pool.Hex()}
	if err := c.query(ctx, query, vars, &out); err != nil {
		return nil, err
	}
	result := make([]AuctionCandidate, 0, len(out.LiquidationAuctions))
	for _, a := range out.LiquidationAuctions {
		result = append(result, AuctionCandidate{
			Borrower: common.HexToAddress(a.Borrower),
			KickTime: a.KickTime,
		})
	}
	return result, nil
}

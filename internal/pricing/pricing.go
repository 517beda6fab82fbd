// Package pricing resolves each pool's reference price from its configured
// source: Fixed, Oracle, or PoolInternal. Structured as a small tagged
// switch over price source kind, with invert and NaN-on-failure handling
// layered on top.
package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/oracle"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
)

// Resolver resolves a pool's reference price per its PriceConfig.
type Resolver struct {
	oracleClient oracle.Client
}

// NewResolver builds a Resolver backed by the given oracle client.
func NewResolver(oracleClient oracle.Client) *Resolver {
	return &Resolver{oracleClient: oracleClient}
}

// Resolve returns the reference price for pool per cfg. Oracle failures
// return NaN — callers must treat NaN as "skip this iteration" per spec
// §4.3; it is not an error because a transient oracle outage should not be
// logged as loudly as an RPC or config failure.
func (r *Resolver) Resolve(ctx context.Context, pool sdk.Pool, cfg config.PriceConfig) (float64, error) {
	raw, err := r.raw(ctx, pool, cfg)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(raw) {
		return math.NaN(), nil
	}
	if !cfg.Invert {
		return raw, nil
	}
	if raw == 0 {
		return 0, nil
	}
	return 1 / raw, nil
}

func (r *Resolver) raw(ctx context.Context, pool sdk.Pool, cfg config.PriceConfig) (float64, error) {
	switch cfg.Source {
	case config.PriceFixed:
		if cfg.Value == nil {
			return 0, fmt.Errorf("pricing: fixed source missing value")
		}
		return *cfg.Value, nil

	case config.PriceOracle:
		if r.oracleClient == nil {
			return 0, fmt.Errorf("pricing: oracle source configured but no oracle client wired")
		}
		coin, quote, err := parseQuery(cfg.Query)
		if err != nil {
			return 0, err
		}
		price, err := r.oracleClient.Price(ctx, coin, quote)
		if err != nil {
			return math.NaN(), nil
		}
		return price, nil

	case config.PricePoolInternal:
		ref, err := sdk.ParsePoolReference(cfg.Reference)
		if err != nil {
			return 0, err
		}
		price, err := pool.ReferencePrice(ctx, ref)
		if err != nil {
			return 0, fmt.Errorf("pricing: pool internal reference %s: %w", cfg.Reference, err)
		}
		return price.Float64(), nil

	default:
		return 0, fmt.Errorf("pricing: unknown price source %q", cfg.Source)
	}
}

// parseQuery splits an oracle query of the form "coin:quote" (e.g.
// "ethereum:usd") into its coin and quote currency.
func parseQuery(query string) (coin, quote string, err error) {
	coin, quote, ok := strings.Cut(query, ":")
	if !ok || coin == "" || quote == "" {
		return "", "", fmt.Errorf("pricing: oracle query %q must be of the form coin:quote", query)
	}
	return coin, quote, nil
}

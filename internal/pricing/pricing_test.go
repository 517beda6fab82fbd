package pricing_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/pricing"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

type stubOracle struct {
	price float64
	err   error
}

func (s stubOracle) Price(ctx context.Context, coin, quote string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

type stubPoolReference struct {
	sdk.Pool
	price wad.WAD
	err   error
}

func (s stubPoolReference) ReferencePrice(ctx context.Context, ref sdk.PoolReference) (wad.WAD, error) {
	if s.err != nil {
		return wad.WAD{}, s.err
	}
	return s.price, nil
}

func TestResolveFixed(t *testing.T) {
	value := 1.5
	r := pricing.NewResolver(nil)
	price, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: config.PriceFixed, Value: &value})
	require.NoError(t, err)
	require.Equal(t, 1.5, price)
}

func TestResolveFixedInvert(t *testing.T) {
	value := 2.0
	r := pricing.NewResolver(nil)
	price, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: config.PriceFixed, Value: &value, Invert: true})
	require.NoError(t, err)
	require.Equal(t, 0.5, price)
}

func TestResolveInvertByZeroReturnsZero(t *testing.T) {
	value := 0.0
	r := pricing.NewResolver(nil)
	price, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: config.PriceFixed, Value: &value, Invert: true})
	require.NoError(t, err)
	require.Equal(t, 0.0, price)
}

func TestResolveOracleFailureReturnsNaN(t *testing.T) {
	r := pricing.NewResolver(stubOracle{err: errors.New("timeout")})
	price, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: config.PriceOracle, Query: "ethereum:usd"})
	require.NoError(t, err)
	require.True(t, math.IsNaN(price))
}

func TestResolveOracleSuccess(t *testing.T) {
	r := pricing.NewResolver(stubOracle{price: 3200.5})
	price, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: config.PriceOracle, Query: "ethereum:usd"})
	require.NoError(t, err)
	require.Equal(t, 3200.5, price)
}

func TestResolveOracleRejectsMalformedQuery(t *testing.T) {
	r := pricing.NewResolver(stubOracle{price: 1})
	_, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: config.PriceOracle, Query: "ethereum"})
	require.Error(t, err)
}

func TestResolvePoolInternal(t *testing.T) {
	pool := stubPoolReference{price: wad.MustFromString("42.5")}
	r := pricing.NewResolver(nil)
	price, err := r.Resolve(context.Background(), pool, config.PriceConfig{Source: config.PricePoolInternal, Reference: "HPB"})
	require.NoError(t, err)
	require.InDelta(t, 42.5, price, 1e-9)
}

func TestResolveUnknownSource(t *testing.T) {
	r := pricing.NewResolver(nil)
	_, err := r.Resolve(context.Background(), nil, config.PriceConfig{Source: "bogus"})
	require.Error(t, err)
}
